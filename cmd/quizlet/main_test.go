package main

import (
	"flag"
	"testing"

	"github.com/l2w/quizlet/pkg/config"
)

func TestFlagsMapToEnvironment(t *testing.T) {
	for _, flagErr := range config.InvalidFlagNames(flag.CommandLine) {
		t.Error(flagErr)
	}
}
