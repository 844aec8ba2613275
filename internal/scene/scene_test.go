package scene

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

const sphereDoc = `{
  "balls": [{"center": [0, 0, 0], "radius": 5}]
}`

func TestDecodeParsesBeamsAndBalls(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{
		"beams": [{"start": [0,0,0], "end": [1,0,0], "startRadius": 0.5, "endRadius": 0.5}],
		"balls": [{"center": [2,0,0], "radius": 1}]
	}`))
	require.NoError(t, err)
	require.Len(t, doc.Beams, 1)
	require.Len(t, doc.Balls, 1)
}

func TestCapStyleDefaultsToHemisphere(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{"beams":[{"start":[0,0,0],"end":[1,0,0],"startRadius":1,"endRadius":1}]}`))
	require.NoError(t, err)
	beams, _ := doc.Primitives()
	require.Equal(t, primitive.CapHemisphere, beams[0].StartCap)
}

func TestCapStyleRecognizesSphereAndButt(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{"beams":[{"start":[0,0,0],"end":[1,0,0],"startRadius":1,"endRadius":1,"startCap":"sphere","endCap":"butt"}]}`))
	require.NoError(t, err)
	beams, _ := doc.Primitives()
	require.Equal(t, primitive.CapSphere, beams[0].StartCap)
	require.Equal(t, primitive.CapButt, beams[0].EndCap)
}

func TestEvaluatorMatchesBallDistance(t *testing.T) {
	doc, err := Decode(strings.NewReader(sphereDoc))
	require.NoError(t, err)
	eval := doc.Evaluator()
	require.InDelta(t, 0.0, eval(geom.Vec3{5, 0, 0}), 1e-4)
	require.InDelta(t, -5.0, eval(geom.Vec3{0, 0, 0}), 1e-4)
}

func TestBoundsCoversAllPrimitives(t *testing.T) {
	doc, err := Decode(strings.NewReader(`{
		"beams": [{"start": [-3,0,0], "end": [3,0,0], "startRadius": 1, "endRadius": 1}],
		"balls": [{"center": [0,10,0], "radius": 2}]
	}`))
	require.NoError(t, err)
	box := doc.Bounds()
	require.LessOrEqual(t, box.Min.X(), float32(-4))
	require.GreaterOrEqual(t, box.Max.Y(), float32(12))
}
