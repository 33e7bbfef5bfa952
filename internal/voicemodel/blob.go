// Package voicemodel serializes conditioning models to a versioned blob for
// storage and loads them back, failing closed on unknown versions.
package voicemodel

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/arjunchapagain/aasirbad/internal/core"
)

// FormatVersion is the current blob format version. Loading checks it
// strictly: an unknown version is a fatal ErrModelFormat, never a
// best-effort parse.
const FormatVersion = "1.0"

// engineTag identifies the capability family the tensors were produced by.
const engineTag = "tortoise-tts"

// blob is the on-disk document. The conditioning pair is stored wholesale
// and replaced wholesale on retraining.
type blob struct {
	Version   string      `msgpack:"version"`
	Engine    string      `msgpack:"engine"`
	Embedding core.Tensor `msgpack:"embedding"`
	Latent    core.Tensor `msgpack:"latent"`
}

// Encode serializes a conditioning pair with the current format version tag.
func Encode(pair *core.ConditioningPair) ([]byte, error) {
	if pair == nil {
		return nil, fmt.Errorf("%w: nil conditioning pair", core.ErrModelFormat)
	}

	data, err := msgpack.Marshal(&blob{
		Version:   FormatVersion,
		Engine:    engineTag,
		Embedding: pair.Embedding,
		Latent:    pair.Latent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize voice model: %w", err)
	}

	return data, nil
}

// Decode parses a stored blob and validates its version before returning the
// conditioning pair.
func Decode(data []byte) (*core.ConditioningPair, error) {
	var document blob

	err := msgpack.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrModelFormat, err)
	}

	if document.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version '%s'", core.ErrModelFormat, document.Version)
	}

	if len(document.Embedding.Data) == 0 || len(document.Latent.Data) == 0 {
		return nil, fmt.Errorf("%w: empty conditioning tensors", core.ErrModelFormat)
	}

	return &core.ConditioningPair{
		Embedding: document.Embedding,
		Latent:    document.Latent,
	}, nil
}
