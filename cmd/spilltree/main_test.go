package main

import (
	"strings"
	"testing"

	"github.com/spilltree/spilltree/membertree"

	"github.com/stretchr/testify/assert"
)

func TestFakeRegistrationIsValid(t *testing.T) {
	for i := 0; i < 200; i++ {
		reg := fakeRegistration(i, "ROOT")
		reg.Normalize()
		assert.NoError(t, reg.Validate(), "%+v", reg)
	}
}

func TestRenderDownline(t *testing.T) {
	assert := assert.New(t)

	view := &membertree.DownlineNode{
		Code:      "R",
		Name:      "Root",
		LeftCount: 2,
		Left: &membertree.DownlineNode{
			Code:      "A",
			Name:      "Alice",
			LeftCount: 1,
			Left:      &membertree.DownlineNode{Code: "C", Name: "Carol"},
		},
		RightCount: 1,
		Right:      &membertree.DownlineNode{Code: "B", Name: "Bob"},
	}
	out := renderDownline(view).String()

	assert.True(strings.HasPrefix(out, "R (Root) L:2 R:1"))
	assert.Contains(out, "left: A (Alice) L:1 R:0")
	assert.Contains(out, "right: B (Bob) L:0 R:0")
	assert.Contains(out, "left: C (Carol) L:0 R:0")
	assert.Less(strings.Index(out, "A (Alice)"), strings.Index(out, "C (Carol)"))
	assert.Less(strings.Index(out, "C (Carol)"), strings.Index(out, "B (Bob)"))
}
