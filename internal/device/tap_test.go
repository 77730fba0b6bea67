package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/models"
)

func TestGetTapPointSwitchOffsets(t *testing.T) {
	el := &models.UIElement{Type: "Switch", Frame: models.Frame{X: 0, Y: 0, W: 100, H: 30}}
	x, y := GetTapPoint(el)
	require.InDelta(t, 85.0, x, 0.001)
	require.InDelta(t, 15.0, y, 0.001)
}

func TestGetTapPointNonSwitchUsesCenter(t *testing.T) {
	el := &models.UIElement{Type: "Button", Frame: models.Frame{X: 0, Y: 0, W: 100, H: 30}}
	x, y := GetTapPoint(el)
	require.InDelta(t, 50.0, x, 0.001)
	require.InDelta(t, 15.0, y, 0.001)
}

func TestResolveTapElementNoMatch(t *testing.T) {
	root := &models.UIElement{Type: "Window"}
	result := ResolveTapElement(root, ElementFilter{Label: "Missing"})
	require.True(t, result.NotFound)
}

func TestResolveTapElementAmbiguous(t *testing.T) {
	root := &models.UIElement{
		Type: "Window",
		Children: []models.UIElement{
			{Type: "Button", Label: "OK"},
			{Type: "Button", Label: "OK"},
		},
	}
	result := ResolveTapElement(root, ElementFilter{Label: "OK"})
	require.Len(t, result.Ambiguous, 2)
	require.Nil(t, result.Tapped)
}

func TestResolveTapElementSingleMatch(t *testing.T) {
	root := &models.UIElement{
		Type: "Window",
		Children: []models.UIElement{
			{Type: "Button", Label: "OK", Frame: models.Frame{X: 0, Y: 0, W: 10, H: 10}},
		},
	}
	result := ResolveTapElement(root, ElementFilter{Label: "OK"})
	require.NotNil(t, result.Tapped)
	require.Equal(t, 5.0, result.TapX)
}
