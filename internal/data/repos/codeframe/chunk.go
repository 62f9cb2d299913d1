package codeframe

import "github.com/google/uuid"

const (
	// maxInList bounds the ids bound into a single IN list. Postgres allows
	// 65535 parameters per statement and sqlite 32766.
	maxInList = 1000
	// upsertBatch rows per INSERT; an embedding row binds six parameters.
	upsertBatch = 500
)

func chunkIDs(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size <= 0 {
		size = maxInList
	}
	out := make([][]uuid.UUID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
