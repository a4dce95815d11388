package main

import (
	"fmt"
	"io"
	"os"
)

var (
	cyan    = colorize("\033[36m%s\033[0m")
	yellow  = colorize("\033[33m%s\033[0m")
	red     = colorize("\033[31m%s\033[0m")
	green   = colorize("\033[32m%s\033[0m")
	magenta = colorize("\033[35m%s\033[0m")
)

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if noColor {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func stdout() io.Writer {
	return rootCmd.OutOrStdout()
}

// printError prints an error message in red on stderr
func printError(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg += ": " + fmt.Sprint(args[0])
	}
	fmt.Fprintln(os.Stderr, red(msg))
}

// printSuccess prints a success message in green
func printSuccess(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(stdout(), green(msg))
}

// printInfo prints a label and value
func printInfo(label, value string) {
	if quiet {
		return
	}
	fmt.Fprintf(stdout(), "%s: %s\n", cyan(label), yellow(value))
}

// printWarning prints a warning message in yellow
func printWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		msg += ": " + fmt.Sprint(args[0])
	}
	fmt.Fprintln(os.Stderr, yellow(msg))
}

// printHighlight prints a heading in magenta
func printHighlight(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(stdout(), magenta(msg))
}
