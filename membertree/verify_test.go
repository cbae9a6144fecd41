package membertree_test

import (
	"testing"

	"github.com/spilltree/spilltree/membertree"

	"github.com/stretchr/testify/assert"
)

// sampleTree is R with A on the left, B on the right, and C spilled under A.
func sampleTree() []membertree.Member {
	return []membertree.Member{
		{Code: "R", Email: "r@example.com", LeftChildCode: "A", RightChildCode: "B", LeftCount: 2, RightCount: 1},
		{Code: "A", Email: "a@example.com", SponsorCode: "R", ParentCode: "R", Position: membertree.PositionLeft, LeftChildCode: "C", LeftCount: 1},
		{Code: "B", Email: "b@example.com", SponsorCode: "R", ParentCode: "R", Position: membertree.PositionRight},
		{Code: "C", Email: "c@example.com", SponsorCode: "R", ParentCode: "A", Position: membertree.PositionLeft},
	}
}

func TestVerifyAcceptsConsistentTree(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(membertree.Verify(sampleTree()))
	assert.NoError(membertree.Verify(nil))
	assert.NoError(membertree.Verify([]membertree.Member{{Code: "solo", Email: "solo@example.com", SponsorCode: "legacy"}}))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(ms []membertree.Member) []membertree.Member
	}{
		{"stale left count", func(ms []membertree.Member) []membertree.Member {
			ms[0].LeftCount = 1
			return ms
		}},
		{"negative count", func(ms []membertree.Member) []membertree.Member {
			ms[2].RightCount = -1
			return ms
		}},
		{"missing child", func(ms []membertree.Member) []membertree.Member {
			ms[2].LeftChildCode = "ghost"
			return ms
		}},
		{"child points elsewhere", func(ms []membertree.Member) []membertree.Member {
			ms[3].ParentCode = "B"
			return ms
		}},
		{"wrong position", func(ms []membertree.Member) []membertree.Member {
			ms[1].Position = membertree.PositionRight
			return ms
		}},
		{"two roots", func(ms []membertree.Member) []membertree.Member {
			return append(ms, membertree.Member{Code: "Z", Email: "z@example.com"})
		}},
		{"no root", func(ms []membertree.Member) []membertree.Member {
			ms[0].ParentCode = "C"
			ms[0].Position = membertree.PositionLeft
			ms[3].LeftChildCode = "R"
			return ms
		}},
		{"duplicate code", func(ms []membertree.Member) []membertree.Member {
			return append(ms, membertree.Member{Code: "C", Email: "c2@example.com", ParentCode: "B", Position: membertree.PositionLeft})
		}},
		{"duplicate email ignoring case", func(ms []membertree.Member) []membertree.Member {
			ms[3].Email = "A@Example.com"
			return ms
		}},
		{"same child twice", func(ms []membertree.Member) []membertree.Member {
			ms[0].RightChildCode = "A"
			return ms
		}},
		{"sponsor outside ancestry", func(ms []membertree.Member) []membertree.Member {
			ms[3].SponsorCode = "B"
			return ms
		}},
		{"missing sponsor", func(ms []membertree.Member) []membertree.Member {
			ms[3].SponsorCode = "nobody"
			return ms
		}},
		{"root with position", func(ms []membertree.Member) []membertree.Member {
			ms[0].Position = membertree.PositionLeft
			return ms
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := membertree.Verify(tc.corrupt(sampleTree()))
			assert.ErrorIs(t, err, membertree.ErrTreeInvariantViolation)
		})
	}
}

func TestRecount(t *testing.T) {
	assert := assert.New(t)

	ms := sampleTree()
	ms[0].LeftCount, ms[0].RightCount = 7, 0
	ms[3].LeftCount = 2
	changed, err := membertree.Recount(ms)
	assert.NoError(err)
	assert.Equal(2, changed)
	assert.Equal(sampleTree(), ms)
	assert.NoError(membertree.Verify(ms))

	changed, err = membertree.Recount(nil)
	assert.NoError(err)
	assert.Zero(changed)

	ms = sampleTree()
	ms[0].RightChildCode = "A"
	_, err = membertree.Recount(ms)
	assert.ErrorIs(err, membertree.ErrTreeInvariantViolation)

	_, err = membertree.Recount(append(sampleTree(), membertree.Member{Code: "Z", Email: "z@example.com"}))
	assert.ErrorIs(err, membertree.ErrTreeInvariantViolation)

	_, err = membertree.Recount(append(sampleTree(), membertree.Member{Code: "A", Email: "a2@example.com", ParentCode: "B"}))
	assert.ErrorIs(err, membertree.ErrTreeInvariantViolation)
}
