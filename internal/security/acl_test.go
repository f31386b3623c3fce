package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func basicAcl() *FileAcl {
	return &FileAcl{
		OwnerUID:  100,
		OwningGID: 200,
		Entries: []AclEntry{
			{Type: AclTypeOwner, Permissions: PermRead | PermWrite},
			{Type: AclTypeNamedUser, ID: 101, Permissions: PermRead},
			{Type: AclTypeOwningGroup, Permissions: PermRead},
			{Type: AclTypeNamedGroup, ID: 201, Permissions: PermRead | PermWrite},
			{Type: AclTypeOther, Permissions: 0},
		},
	}
}

func TestEvaluate_OwnerMatchesFirst(t *testing.T) {
	fa := basicAcl()
	assert.True(t, fa.Evaluate(100, nil, PermRead|PermWrite))
	assert.False(t, fa.Evaluate(100, nil, PermExecute))
}

func TestEvaluate_NamedUserBeforeOwningGroup(t *testing.T) {
	fa := basicAcl()
	// uid 101 is a named user with read-only, even though their gid 200
	// (owning group) would also match -- named user wins per evaluation order.
	assert.True(t, fa.Evaluate(101, []uint32{200}, PermRead))
	assert.False(t, fa.Evaluate(101, []uint32{200}, PermWrite))
}

func TestEvaluate_OwningGroupBeforeNamedGroup(t *testing.T) {
	fa := basicAcl()
	assert.True(t, fa.Evaluate(999, []uint32{200, 201}, PermRead))
	assert.False(t, fa.Evaluate(999, []uint32{200, 201}, PermWrite), "owning group (read-only) must win over named group 201 (read+write)")
}

func TestEvaluate_NamedGroupWhenNotOwningGroup(t *testing.T) {
	fa := basicAcl()
	assert.True(t, fa.Evaluate(999, []uint32{201}, PermWrite))
}

func TestEvaluate_FallsThroughToOther(t *testing.T) {
	fa := basicAcl()
	assert.False(t, fa.Evaluate(999, []uint32{999}, PermRead))
}

func TestEvaluate_MaskBoundsGroupClassEntries(t *testing.T) {
	fa := basicAcl()
	fa.HasMask = true
	fa.Mask = PermRead // strips write even though named group grants it
	assert.True(t, fa.Evaluate(201, []uint32{201}, PermRead))
	assert.False(t, fa.Evaluate(201, []uint32{201}, PermWrite))
}

func TestEvaluate_MaskNeverAppliesToOwnerOrOther(t *testing.T) {
	fa := basicAcl()
	fa.HasMask = true
	fa.Mask = 0
	assert.True(t, fa.Evaluate(100, nil, PermRead|PermWrite), "mask must not restrict the owner entry")
}

func TestFromModeBits(t *testing.T) {
	fa := FromModeBits(100, 200, 0o640, false)
	assert.True(t, fa.Evaluate(100, nil, PermRead|PermWrite))
	assert.True(t, fa.Evaluate(999, []uint32{200}, PermRead))
	assert.False(t, fa.Evaluate(999, []uint32{200}, PermWrite))
	assert.False(t, fa.Evaluate(999, []uint32{999}, PermRead))
}
