package emitter

import (
	"github.com/snowtrail/snowtrail/internal/store"
)

const (
	// PostWrapperBytes is the length of the POST envelope around the data
	// array: {"schema":"<payload_data schema>","data":[]}
	PostWrapperBytes = 88
	// PostStmBytes is the length of the sent timestamp field added to
	// every event at send time: ,"stm":"1234567890123"
	PostStmBytes = 22
)

// Batch is a planned request: the rows it carries and whether it is a
// single payload that exceeds the byte limit on its own.
type Batch struct {
	Rows     []store.Row
	Oversize bool
}

// PlanPost partitions rows into POST batches whose encoded body stays
// within limit bytes. A row too large for any batch is planned alone and
// flagged oversize. Planning is deterministic for a given row order.
func PlanPost(rows []store.Row, limit int) []Batch {
	var (
		batches []Batch
		current []store.Row
		total   int
	)

	for _, row := range rows {
		size := row.Payload.ByteSize() + PostStmBytes

		switch {
		case size+PostWrapperBytes > limit:
			batches = append(batches, Batch{Rows: []store.Row{row}, Oversize: true})
		// len(current) is the number of separators once row is appended
		case total+size+PostWrapperBytes+len(current) > limit:
			batches = append(batches, Batch{Rows: current})
			current = []store.Row{row}
			total = size
		default:
			current = append(current, row)
			total += size
		}
	}

	if len(current) > 0 {
		batches = append(batches, Batch{Rows: current})
	}
	return batches
}

// PlanGet plans one GET request per row, flagging rows whose size exceeds
// limit.
func PlanGet(rows []store.Row, limit int) []Batch {
	batches := make([]Batch, 0, len(rows))
	for _, row := range rows {
		batches = append(batches, Batch{
			Rows:     []store.Row{row},
			Oversize: row.Payload.ByteSize()+PostStmBytes > limit,
		})
	}
	return batches
}

// PostBodySize returns the encoded size of a POST batch including the
// envelope, separators and sent timestamps.
func PostBodySize(rows []store.Row) int {
	if len(rows) == 0 {
		return PostWrapperBytes
	}
	n := PostWrapperBytes + len(rows) - 1
	for _, r := range rows {
		n += r.Payload.ByteSize() + PostStmBytes
	}
	return n
}
