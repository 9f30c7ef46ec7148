package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cryptoSpotBot/internal/domain"
)

var candleHeader = []string{"open_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteCandlesToCSV writes candles to filename, creating parent directories as needed.
func WriteCandlesToCSV(candles []*domain.Candle, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filename, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteCandles(file, candles); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteCandles writes a header row followed by one row per candle.
func WriteCandles(w io.Writer, candles []*domain.Candle) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(candleHeader); err != nil {
		return err
	}
	for _, c := range candles {
		if err := writer.Write([]string{
			c.Timestamp.UTC().Format(time.RFC3339),
			c.Symbol,
			c.Interval,
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
