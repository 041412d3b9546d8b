package blobstorage

import (
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gridstore/internal/common"
)

// MaxParts is the S3 limit on parts per multipart upload.
const MaxParts = 10000

// TotalParts returns ceil(size/chunk). An empty object still needs one part
// because a multipart upload cannot complete without any.
func TotalParts(size, chunk int64) int64 {
	if size <= 0 {
		return 1
	}
	return (size + chunk - 1) / chunk
}

// SplitChunks cuts data into chunk-sized slices; the last one may be shorter.
// Empty data yields a single empty chunk.
func SplitChunks(data []byte, chunk int64) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	n := TotalParts(int64(len(data)), chunk)
	out := make([][]byte, 0, n)
	for off := int64(0); off < int64(len(data)); off += chunk {
		end := min(off+chunk, int64(len(data)))
		out = append(out, data[off:end])
	}
	return out
}

// ValidateManifest checks that parts cover exactly 1..total once each with a
// non-empty tag and returns them ordered by part number.
func ValidateManifest(parts []Part, total int64) ([]Part, error) {
	if int64(len(parts)) != total {
		return nil, fmt.Errorf("%w: got %d of %d parts", common.ErrUploadIncomplete, len(parts), total)
	}

	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b Part) int { return int(a.PartNumber) - int(b.PartNumber) })

	for i, p := range sorted {
		want := int32(i + 1)
		if p.PartNumber != want {
			return nil, fmt.Errorf("%w: expected part %d, got %d", common.ErrUploadIncomplete, want, p.PartNumber)
		}
		if p.ETag == "" {
			return nil, fmt.Errorf("%w: part %d has no tag", common.ErrUploadIncomplete, p.PartNumber)
		}
	}
	return sorted, nil
}
