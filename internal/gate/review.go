package gate

import (
	"time"

	"github.com/csk-next/csk/internal/domain"
)

// RecordReview builds a ReviewProof from a reviewer's P0-P3 finding
// counts. A review passes only when there are zero P0 and zero P1
// findings; P2/P3 findings are recorded but do not block.
func RecordReview(reviewer string, p0, p1, p2, p3 int, notes string) domain.ReviewProof {
	return domain.ReviewProof{
		Reviewer:  reviewer,
		P0:        p0,
		P1:        p1,
		P2:        p2,
		P3:        p3,
		Notes:     notes,
		Passed:    p0 == 0 && p1 == 0,
		CheckedAt: time.Now().UTC(),
	}
}
