package main

import (
	"encoding/json"
	"os"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("Encode output: %v", err)
	}
}

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

// report prints the outcome of a command that has no other output.
func report(err error, success string, fields map[string]interface{}) error {
	if jsonOutput {
		result := map[string]interface{}{"success": err == nil}
		for k, v := range fields {
			result[k] = v
		}
		if err != nil {
			result["error"] = err.Error()
		}
		printJSON(result)
		return err
	}

	if err != nil {
		return err
	}
	printSuccess("%s", success)
	return nil
}

func formatResult(ok bool) string {
	if ok {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}
