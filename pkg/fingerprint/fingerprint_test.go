package fingerprint

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestDeterministic(t *testing.T) {
	a, err := Of(map[string]interface{}{"confidence_threshold": 0.3, "max_objects": 20})
	assert.NilError(t, err)
	b, err := Of(map[string]interface{}{"confidence_threshold": 0.3, "max_objects": 20})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(a, b))
	assert.Check(t, cmp.Len(a, 16))
}

func TestFieldOrderIndependent(t *testing.T) {
	type paramsA struct {
		Threshold float64 `json:"confidence_threshold"`
		Max       int     `json:"max_objects"`
	}
	type paramsB struct {
		Max       int     `json:"max_objects"`
		Threshold float64 `json:"confidence_threshold"`
	}
	a, err := Of(paramsA{Threshold: 0.7, Max: 10})
	assert.NilError(t, err)
	b, err := Of(paramsB{Threshold: 0.7, Max: 10})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(a, b))
}

func TestNumericallyEquivalentValues(t *testing.T) {
	a, err := Of(map[string]interface{}{"confidence_threshold": 0.3})
	assert.NilError(t, err)
	b, err := Of(map[string]interface{}{"confidence_threshold": 0.30})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(a, b))

	c, err := Of(map[string]interface{}{"confidence_threshold": float32(0.0)})
	assert.NilError(t, err)
	d, err := Of(map[string]interface{}{"confidence_threshold": 0})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(c, d))
}

func TestDifferentParametersDiffer(t *testing.T) {
	a, err := Of(map[string]interface{}{"confidence_threshold": 0.3})
	assert.NilError(t, err)
	b, err := Of(map[string]interface{}{"confidence_threshold": 0.31})
	assert.NilError(t, err)
	assert.Check(t, a != b)

	c, err := Of(map[string]interface{}{"quality": 90})
	assert.NilError(t, err)
	assert.Check(t, a != c)
}

func TestNestedStructures(t *testing.T) {
	a, err := Of(map[string]interface{}{
		"style": map[string]interface{}{"box_color": "#FFFFFF", "box_thickness": 2},
		"kinds": []string{"detect", "nature"},
	})
	assert.NilError(t, err)
	b, err := Of(map[string]interface{}{
		"kinds": []string{"detect", "nature"},
		"style": map[string]interface{}{"box_thickness": 2, "box_color": "#FFFFFF"},
	})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(a, b))

	// slice order is significant
	c, err := Of(map[string]interface{}{
		"kinds": []string{"nature", "detect"},
		"style": map[string]interface{}{"box_thickness": 2, "box_color": "#FFFFFF"},
	})
	assert.NilError(t, err)
	assert.Check(t, a != c)
}
