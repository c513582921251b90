package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateSelection checks an input file and output directory picked by a user
func ValidateSelection(input, outputDir string) error {
	if input == "" {
		return fmt.Errorf("%w: select an input file", ErrInput)
	}
	if outputDir == "" {
		return fmt.Errorf("%w: select an output directory", ErrOutput)
	}
	if _, ok := driverFor(input); !ok {
		return fmt.Errorf("%w: %s: unsupported format, expected one of %s",
			ErrInput, input, strings.Join(SupportedExtensions(), " "))
	}
	info, err := os.Stat(outputDir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrOutput, outputDir)
	}
	return nil
}

// OutputPathInDir is where the result for input is written inside dir
func OutputPathInDir(input, dir string) string {
	return filepath.Join(dir, OutputName+filepath.Ext(input))
}
