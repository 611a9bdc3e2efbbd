package repost

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// CheckpointVersion is the current checkpoint document version.
const CheckpointVersion = 1

// Checkpoint codecs persisted next to the payload.
const (
	CodecJSON     = "json"
	CodecZstdJSON = "zstd+json"
)

// compressThreshold is the encoded size above which checkpoints are compressed.
const compressThreshold = 10 * 1024

// Checkpoint is the persisted progress of a coordinator run.
type Checkpoint struct {
	Version  int                 `json:"version"`
	Items    []WorkItem          `json:"items"`
	Pairs    []PairState         `json:"pairs"`
	Index    int                 `json:"current_index"`
	Affected []ledger.VoucherRef `json:"affected_transactions"`
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeCheckpoint serialises cp, compressing documents above the threshold.
func EncodeCheckpoint(cp *Checkpoint) ([]byte, string, error) {
	if cp == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, "", fmt.Errorf("repost: encode checkpoint: %w", err)
	}
	if len(data) <= compressThreshold {
		return data, CodecJSON, nil
	}
	return encoder.EncodeAll(data, nil), CodecZstdJSON, nil
}

// DecodeCheckpoint parses a persisted checkpoint. Empty payloads decode to nil.
func DecodeCheckpoint(data []byte, codec string) (*Checkpoint, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch codec {
	case "", CodecJSON:
	case CodecZstdJSON:
		raw, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("repost: decompress checkpoint: %w", err)
		}
		data = raw
	default:
		return nil, fmt.Errorf("repost: unknown checkpoint codec %q", codec)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("repost: decode checkpoint: %w", err)
	}
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: %d", ErrCheckpointVersion, cp.Version)
	}
	return &cp, nil
}
