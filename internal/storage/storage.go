package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// Storage keys
const (
	keyMeta        = "tt/meta"
	keyChunkPrefix = "tt/chunk/"
	keyPrefix      = "tt/"
)

const (
	formatVersion = 1
	chunkSize     = 1 << 20
)

var (
	// ErrNoSnapshot is returned by Load when nothing has been saved.
	ErrNoSnapshot = errors.New("storage: no snapshot")

	// ErrSnapshotMismatch is returned by Load when the stored snapshot was
	// taken from a table of another size or its payload is damaged.
	ErrSnapshotMismatch = errors.New("storage: snapshot does not match")
)

// Snapshot is a raw transposition table image: two words per slot.
type Snapshot struct {
	Generation uint8
	Clusters   int
	Words      []uint64
}

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	Version        int       `json:"version"`
	Clusters       int       `json:"clusters"`
	Generation     uint8     `json:"generation"`
	Entries        int       `json:"entries"`
	RawSize        int       `json:"raw_size"`
	CompressedSize int       `json:"compressed_size"`
	Chunks         int       `json:"chunks"`
	Checksum       uint64    `json:"checksum"`
	SavedAt        time.Time `json:"saved_at"`
}

// SnapshotStore keeps one snapshot in a BadgerDB directory. The payload is
// zstd-compressed and split into chunks; the metadata record is written
// last, so a missing record means no complete snapshot exists.
type SnapshotStore struct {
	db     *badger.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger zerolog.Logger
}

// Open opens or creates a store in dir.
func Open(dir string, logger zerolog.Logger) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &SnapshotStore{db: db, enc: enc, dec: dec, logger: logger}, nil
}

// OpenDefault opens the store in SnapshotDir.
func OpenDefault(logger zerolog.Logger) (*SnapshotStore, error) {
	dir, err := SnapshotDir()
	if err != nil {
		return nil, err
	}
	return Open(dir, logger)
}

// Close closes the database
func (s *SnapshotStore) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("zstd-encoder-close")
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	raw := make([]byte, 8*len(snap.Words))
	entries := 0
	for i, w := range snap.Words {
		binary.LittleEndian.PutUint64(raw[8*i:], w)
		if i%2 == 1 && w != 0 {
			entries++
		}
	}
	payload := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	info := SnapshotInfo{
		Version:        formatVersion,
		Clusters:       snap.Clusters,
		Generation:     snap.Generation,
		Entries:        entries,
		RawSize:        len(raw),
		CompressedSize: len(payload),
		Chunks:         (len(payload) + chunkSize - 1) / chunkSize,
		Checksum:       xxhash.Sum64(raw),
		SavedAt:        time.Now(),
	}

	if err := s.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("drop old snapshot: %w", err)
	}

	wb := s.db.NewWriteBatch()
	for i := 0; i < info.Chunks; i++ {
		if err := ctx.Err(); err != nil {
			wb.Cancel()
			return err
		}
		end := min((i+1)*chunkSize, len(payload))
		if err := wb.Set(chunkKey(i), payload[i*chunkSize:end]); err != nil {
			wb.Cancel()
			return fmt.Errorf("write snapshot chunk %d: %w", i, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush snapshot chunks: %w", err)
	}

	meta, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode snapshot metadata: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyMeta), meta)
	})
	if err != nil {
		return fmt.Errorf("write snapshot metadata: %w", err)
	}

	s.logger.Debug().
		Int("clusters", info.Clusters).
		Int("entries", info.Entries).
		Int("raw", info.RawSize).
		Int("compressed", info.CompressedSize).
		Msg("snapshot-saved")
	return nil
}

// Info returns the metadata of the stored snapshot.
func (s *SnapshotStore) Info(ctx context.Context) (SnapshotInfo, error) {
	var info SnapshotInfo
	if err := ctx.Err(); err != nil {
		return info, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyMeta))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoSnapshot
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	return info, err
}

// Load reads the stored snapshot, which must describe a table of clusters
// clusters.
func (s *SnapshotStore) Load(ctx context.Context, clusters int) (Snapshot, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if info.Version != formatVersion || info.Clusters != clusters {
		return Snapshot{}, fmt.Errorf("%w: stored %d clusters (format %d), want %d",
			ErrSnapshotMismatch, info.Clusters, info.Version, clusters)
	}

	var payload bytes.Buffer
	payload.Grow(info.CompressedSize)
	err = s.db.View(func(txn *badger.Txn) error {
		for i := 0; i < info.Chunks; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := txn.Get(chunkKey(i))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: chunk %d missing", ErrSnapshotMismatch, i)
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				payload.Write(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	raw, err := s.dec.DecodeAll(payload.Bytes(), make([]byte, 0, info.RawSize))
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotMismatch, err)
	}
	if len(raw) != info.RawSize || len(raw)%8 != 0 || xxhash.Sum64(raw) != info.Checksum {
		return Snapshot{}, fmt.Errorf("%w: checksum failed", ErrSnapshotMismatch)
	}

	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(raw[8*i:])
	}
	s.logger.Debug().Int("clusters", info.Clusters).Int("entries", info.Entries).Msg("snapshot-loaded")
	return Snapshot{Generation: info.Generation, Clusters: info.Clusters, Words: words}, nil
}

// Delete removes the stored snapshot.
func (s *SnapshotStore) Delete() error {
	if err := s.db.DropPrefix([]byte(keyPrefix)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func chunkKey(i int) []byte {
	return fmt.Appendf(nil, "%s%06d", keyChunkPrefix, i)
}
