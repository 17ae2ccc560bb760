package document

import (
	"encoding/base64"
	"encoding/json"

	"github.com/ciphernom/bitquill/pkg/anchor"
	"github.com/ciphernom/bitquill/pkg/bqerr"
	"github.com/ciphernom/bitquill/pkg/canon"
	"github.com/ciphernom/bitquill/pkg/config"
	"github.com/ciphernom/bitquill/pkg/delta"
	"github.com/ciphernom/bitquill/pkg/difficulty"
	"github.com/ciphernom/bitquill/pkg/hashing"
	"github.com/ciphernom/bitquill/pkg/merklelog"
)

// wireReceipt is the serialized anchor receipt shape of spec.md §6.
type wireReceipt struct {
	RootHash      string `json:"root_hash"`
	SubmittedAt   int64  `json:"submitted_at"`
	State         string `json:"state"`
	Receipt       string `json:"receipt"`
	LastCheckedAt int64  `json:"last_checked_at"`
}

// wireDocument is the stable top-level structure spec.md §6 specifies:
// {version, leaves, anchor_receipts} in canonical JSON form.
type wireDocument struct {
	Version        int           `json:"version"`
	Leaves         []Leaf        `json:"leaves"`
	AnchorReceipts []wireReceipt `json:"anchor_receipts"`
}

// Serialize emits the log as canonical JSON. The transport wrapper may
// gzip the result separately; that is a host concern, not this core's.
func (l *Log) Serialize() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc := wireDocument{
		Version:        int(l.version.Major()),
		Leaves:         l.leaves,
		AnchorReceipts: make([]wireReceipt, len(l.receipts)),
	}
	for i, r := range l.receipts {
		doc.AnchorReceipts[i] = wireReceipt{
			RootHash:      r.RootHash,
			SubmittedAt:   r.SubmittedAt,
			State:         string(r.State),
			Receipt:       base64.StdEncoding.EncodeToString(r.ReceiptBlob),
			LastCheckedAt: r.LastCheckedAt,
		}
	}

	b, err := canon.Bytes(doc)
	if err != nil {
		return nil, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "document serialization failed", err)
	}
	return b, nil
}

// Deserialize parses bytes and re-runs full verification (I1-I4) across
// every leaf; it returns an error without constructing any Log on any
// invariant violation, loading no partial state.
func Deserialize(composer delta.Composer, opts []Option, b []byte) (*Log, error) {
	var doc wireDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "document decode failed", err)
	}
	if len(doc.Leaves) == 0 {
		return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "document has no leaves", nil)
	}

	tree := merklelog.New()
	leafHashes := make([]hashing.Digest, 0, len(doc.Leaves))
	difficultyCfg := config.Default().Difficulty
	var prevDifficulty uint8

	for i, leaf := range doc.Leaves {
		if leaf.Index != i {
			return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "leaf index out of order", nil)
		}

		expectedPrevRoot := merklelog.Rebuild(leafHashes).Root()
		if leaf.PrevRoot != expectedPrevRoot {
			return nil, bqerr.New(bqerr.KindChainBroken, bqerr.ClassFatal, "prev_root mismatch on load", nil)
		}

		recomputedHash, err := computeLeafHash(leaf.Delta, leaf.Metadata, leaf.PrevRoot)
		if err != nil {
			return nil, err
		}
		if recomputedHash != leaf.LeafHash {
			return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "leaf hash mismatch on load", nil)
		}

		if i == 0 {
			if !leaf.Metadata.IsGenesis {
				return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "first leaf is not genesis", nil)
			}
		} else {
			if leaf.Metadata.Pow == nil {
				return nil, bqerr.New(bqerr.KindPowRequired, bqerr.ClassFatal, "non-genesis leaf missing pow", nil)
			}
			payload, err := sealPayload(leaf.Delta, leaf.PrevRoot)
			if err != nil {
				return nil, err
			}
			if !powVerify(payload, leaf.Metadata.Pow.Nonce, leaf.Metadata.Pow.Difficulty) {
				return nil, bqerr.New(bqerr.KindPowInvalid, bqerr.ClassFatal, "pow invalid on load", nil)
			}

			d := leaf.Metadata.Pow.Difficulty
			if !difficulty.ValidateAdjacentPair(prevDifficulty, d, difficultyCfg) {
				return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "leaf difficulty outside configured bounds or adjustment ratio", nil)
			}
			prevDifficulty = d
		}

		leafHashes = append(leafHashes, merklelog.LeafDomainHash(leaf.LeafHash))
		tree.Append(merklelog.LeafDomainHash(leaf.LeafHash))
	}

	log, err := newLogFromLeaves(composer, doc.Leaves, tree, opts...)
	if err != nil {
		return nil, err
	}

	for _, wr := range doc.AnchorReceipts {
		blob, err := base64.StdEncoding.DecodeString(wr.Receipt)
		if err != nil {
			return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "receipt blob decode failed", err)
		}
		log.receipts = append(log.receipts, anchor.Receipt{
			RootHash:      wr.RootHash,
			SubmittedAt:   wr.SubmittedAt,
			ReceiptBlob:   blob,
			State:         anchor.State(wr.State),
			LastCheckedAt: wr.LastCheckedAt,
		})
	}

	return log, nil
}
