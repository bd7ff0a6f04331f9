package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"whispem/internal/value"
)

func TestTruthyRules(t *testing.T) {
	assert.True(t, value.NewNumber(1).Truthy())
	assert.False(t, value.NewNumber(0).Truthy())
	assert.True(t, value.NewString("x").Truthy())
	assert.False(t, value.NewString("").Truthy())
	assert.False(t, value.NewArray(nil).Truthy())
	assert.True(t, value.NewArray([]value.Value{value.NewNumber(1)}).Truthy())
	assert.False(t, value.NewNone().Truthy())
	assert.False(t, value.NewBool(false).Truthy())
	assert.True(t, value.NewBool(true).Truthy())
}

func TestDisplayFormatsIntegerNumbersWithoutDecimal(t *testing.T) {
	assert.Equal(t, "3", value.NewNumber(3).Display())
	assert.Equal(t, "3.5", value.NewNumber(3.5).Display())
}

func TestDisplayFormatsArraysAndDicts(t *testing.T) {
	arr := value.NewArray([]value.Value{value.NewNumber(1), value.NewNumber(2)})
	assert.Equal(t, "[1, 2]", arr.Display())

	d := value.NewDict()
	d.Set("b", value.NewNumber(2))
	d.Set("a", value.NewNumber(1))
	assert.Equal(t, "{a: 1, b: 2}", value.NewDictValue(d).Display())
}

func TestEqualIsStructuralAndNonCoercing(t *testing.T) {
	assert.True(t, value.Equal(value.NewNumber(1), value.NewNumber(1)))
	assert.False(t, value.Equal(value.NewNumber(1), value.NewString("1")))
	assert.True(t, value.Equal(
		value.NewArray([]value.Value{value.NewNumber(1)}),
		value.NewArray([]value.Value{value.NewNumber(1)}),
	))
	assert.False(t, value.Equal(
		value.NewArray([]value.Value{value.NewNumber(1)}),
		value.NewArray([]value.Value{value.NewNumber(2)}),
	))
	assert.True(t, value.Equal(value.NewNone(), value.NewNone()))
}

func TestEqualComparesDictsByContentNotIdentity(t *testing.T) {
	a := value.NewDict()
	a.Set("x", value.NewNumber(1))
	b := value.NewDict()
	b.Set("x", value.NewNumber(1))
	assert.True(t, value.Equal(value.NewDictValue(a), value.NewDictValue(b)))

	b.Set("x", value.NewNumber(2))
	assert.False(t, value.Equal(value.NewDictValue(a), value.NewDictValue(b)))
}

func TestDictKeyCoercion(t *testing.T) {
	k, ok := value.DictKey(value.NewString("hi"))
	assert.True(t, ok)
	assert.Equal(t, "hi", k)

	k, ok = value.DictKey(value.NewNumber(3))
	assert.True(t, ok)
	assert.Equal(t, "3", k)

	_, ok = value.DictKey(value.NewBool(true))
	assert.False(t, ok)
}

func TestDictCloneIsIndependent(t *testing.T) {
	d := value.NewDict()
	d.Set("x", value.NewNumber(1))
	clone := d.Clone()
	clone.Set("x", value.NewNumber(2))

	orig, _ := d.Get("x")
	cloned, _ := clone.Get("x")
	assert.Equal(t, float64(1), orig.Num)
	assert.Equal(t, float64(2), cloned.Num)
}

func TestSortedKeysAreLexicographic(t *testing.T) {
	d := value.NewDict()
	d.Set("c", value.NewNumber(3))
	d.Set("a", value.NewNumber(1))
	d.Set("b", value.NewNumber(2))
	assert.Equal(t, []string{"a", "b", "c"}, d.SortedKeys())
}
