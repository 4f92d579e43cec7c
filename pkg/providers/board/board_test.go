package board

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenericBoardAlwaysAvailable(t *testing.T) {
	assert.True(t, Generic.IsAvailable(context.Background()))
}

func TestDeclaredEncodersReturnsConfiguredSet(t *testing.T) {
	b := Declared{Name: "radxa_zero", Encoders: []string{"h264_hw", "mjpeg"}}
	assert.Equal(t, []string{"h264_hw", "mjpeg"}, b.DeclaredEncoders())
}
