// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package cfgstruct

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestBind(t *testing.T) {
	t.Parallel()

	type inner struct {
		BatchSize int           `help:"batch size" default:"20"`
		Pause     time.Duration `help:"pause" default:"10s"`
	}
	type config struct {
		Address string `help:"listen address" default:":8080"`
		Debug   bool   `help:"debug mode" default:"false"`
		Images  inner
	}

	var cfg config
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Bind(flags, &cfg)

	require.NoError(t, flags.Parse(nil))
	require.Equal(t, ":8080", cfg.Address)
	require.False(t, cfg.Debug)
	require.Equal(t, 20, cfg.Images.BatchSize)
	require.Equal(t, 10*time.Second, cfg.Images.Pause)

	require.NoError(t, flags.Parse([]string{
		"--address=:9090",
		"--images.batch-size=5",
		"--images.pause=1m",
	}))
	require.Equal(t, ":9090", cfg.Address)
	require.Equal(t, 5, cfg.Images.BatchSize)
	require.Equal(t, time.Minute, cfg.Images.Pause)
}

func TestHyphenate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "batch-size", hyphenate("BatchSize"))
	require.Equal(t, "address", hyphenate("Address"))
	require.Equal(t, "use-ssl", hyphenate("UseSSL"))
	require.Equal(t, "ges", hyphenate("GES"))
}
