package marketdata

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

var diskMagic = [4]byte{'C', 'S', 'B', 'K'}

const diskVersion uint16 = 1

// maxDiskRows bounds the row count read from a file header.
const maxDiskRows = 1 << 20

// DiskCache stores candle history per (symbol, interval) as zstd-compressed columnar files.
//
// Layout before compression, little endian:
//
//	magic [4]byte "CSBK"
//	version uint16
//	cachedAt int64 (unix nanos)
//	rows uint32
//	timestamps [rows]int64 (unix nanos)
//	open, high, low, close, volume [rows]float64 each
type DiskCache struct {
	dir string
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewDiskCache failed: %w: %w", ports.ErrStorage, err)
	}
	return &DiskCache{dir: dir}, nil
}

func (d *DiskCache) path(symbol, interval string) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_%s.candles.zst", symbol, interval))
}

// Save writes the candles, sorted and deduplicated, replacing any previous file atomically.
func (d *DiskCache) Save(symbol, interval string, candles []*domain.Candle, cachedAt time.Time) error {
	rows := MergeCandles(nil, candles)

	tmp, err := os.CreateTemp(d.dir, ".candles-*.tmp")
	if err != nil {
		return fmt.Errorf("DiskCache.Save failed: %w: %w", ports.ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := encodeCandles(tmp, rows, cachedAt); err != nil {
		tmp.Close()
		return fmt.Errorf("DiskCache.Save failed: %w: %w", ports.ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("DiskCache.Save failed: %w: %w", ports.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("DiskCache.Save failed: %w: %w", ports.ErrStorage, err)
	}
	if err := os.Rename(tmpName, d.path(symbol, interval)); err != nil {
		return fmt.Errorf("DiskCache.Save failed: %w: %w", ports.ErrStorage, err)
	}
	return nil
}

// Remove deletes the cached file, if any.
func (d *DiskCache) Remove(symbol, interval string) error {
	if err := os.Remove(d.path(symbol, interval)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("DiskCache.Remove failed: %w: %w", ports.ErrStorage, err)
	}
	return nil
}

// Load reads the cached candles and the time they were cached.
// A missing file returns ErrNotFound.
func (d *DiskCache) Load(symbol, interval string) ([]*domain.Candle, time.Time, error) {
	f, err := os.Open(d.path(symbol, interval))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, fmt.Errorf("DiskCache.Load failed: %w", ports.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("DiskCache.Load failed: %w: %w", ports.ErrStorage, err)
	}
	defer f.Close()

	candles, cachedAt, err := decodeCandles(f, symbol, interval)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("DiskCache.Load failed: %w: %w", ports.ErrStorage, err)
	}
	return candles, cachedAt, nil
}

func encodeCandles(w io.Writer, rows []*domain.Candle, cachedAt time.Time) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(enc)

	put := func(v any) {
		if err == nil {
			err = binary.Write(bw, binary.LittleEndian, v)
		}
	}
	put(diskMagic)
	put(diskVersion)
	put(cachedAt.UnixNano())
	put(uint32(len(rows)))
	for _, c := range rows {
		put(c.Timestamp.UnixNano())
	}
	for _, col := range []func(*domain.Candle) float64{
		func(c *domain.Candle) float64 { return c.Open },
		func(c *domain.Candle) float64 { return c.High },
		func(c *domain.Candle) float64 { return c.Low },
		func(c *domain.Candle) float64 { return c.Close },
		func(c *domain.Candle) float64 { return c.Volume },
	} {
		for _, c := range rows {
			put(math.Float64bits(col(c)))
		}
	}
	if err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func decodeCandles(r io.Reader, symbol, interval string) ([]*domain.Candle, time.Time, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	var (
		magic    [4]byte
		version  uint16
		cachedAt int64
		rows     uint32
	)
	get := func(v any) {
		if err == nil {
			err = binary.Read(br, binary.LittleEndian, v)
		}
	}
	get(&magic)
	get(&version)
	get(&cachedAt)
	get(&rows)
	if err != nil {
		return nil, time.Time{}, err
	}
	if magic != diskMagic {
		return nil, time.Time{}, fmt.Errorf("bad magic %q", magic[:])
	}
	if version != diskVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported version %d", version)
	}
	if rows > maxDiskRows {
		return nil, time.Time{}, fmt.Errorf("row count %d too large", rows)
	}

	n := int(rows)
	ts := make([]int64, n)
	get(ts)
	cols := make([][]uint64, 5)
	for i := range cols {
		cols[i] = make([]uint64, n)
		get(cols[i])
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	out := make([]*domain.Candle, n)
	for i := range out {
		out[i] = &domain.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: time.Unix(0, ts[i]).UTC(),
			Open:      math.Float64frombits(cols[0][i]),
			High:      math.Float64frombits(cols[1][i]),
			Low:       math.Float64frombits(cols[2][i]),
			Close:     math.Float64frombits(cols[3][i]),
			Volume:    math.Float64frombits(cols[4][i]),
		}
	}
	return out, time.Unix(0, cachedAt).UTC(), nil
}
