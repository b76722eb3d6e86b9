// Copyright 2013 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nin

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// LineType distinguishes a status line that may later be elided to fit the
// terminal width (ELIDE) from one that should always print in full (FULL).
type LineType int

const (
	FULL LineType = iota
	ELIDE
)

// LinePrinter prints build status, possibly overprinting the previous line
// in place when stdout is a terminal that supports it.
type LinePrinter struct {
	smartTerminal bool
	supportsColor bool

	// haveBlankLine reports whether the cursor sits at the start of an
	// otherwise empty line.
	haveBlankLine bool

	// consoleLocked is set while a console-pool edge owns stdout/stderr
	// directly; printing is buffered instead of interleaved with it.
	consoleLocked bool
	lineBuffer    string
	lineType      LineType
	outputBuffer  strings.Builder
}

// NewLinePrinter detects whether stdout is a terminal ninja can do fancy
// overprinting on.
func NewLinePrinter() LinePrinter {
	term := os.Getenv("TERM")
	smart := term != "dumb" && isatty.IsTerminal(os.Stdout.Fd())

	supportsColor := smart
	if !supportsColor {
		if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
			supportsColor = true
		}
	}

	return LinePrinter{smartTerminal: smart, supportsColor: supportsColor, haveBlankLine: true}
}

func (l *LinePrinter) IsSmartTerminal() bool       { return l.smartTerminal }
func (l *LinePrinter) SetSmartTerminal(smart bool) { l.smartTerminal = smart }
func (l *LinePrinter) SupportsColor() bool         { return l.supportsColor }

// terminalWidth returns the current column count of stdout's terminal, or 0
// if it can't be determined (not a terminal, ioctl failure).
func (l *LinePrinter) terminalWidth() int {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return 0
	}
	return int(ws.Col)
}

// Print prints, or buffers while the console is locked, one status line.
func (l *LinePrinter) Print(toPrint string, lineType LineType) {
	if l.consoleLocked {
		l.lineBuffer = toPrint
		l.lineType = lineType
		return
	}

	if l.smartTerminal {
		fmt.Print("\r") // Print over the previous line, if any.
	}

	if l.smartTerminal && lineType == ELIDE {
		if width := l.terminalWidth(); width > 0 {
			toPrint = ElideMiddle(toPrint, width)
		}
		fmt.Print(toPrint, "\x1B[K") // Clear to end of line.
		l.haveBlankLine = false
	} else {
		fmt.Println(toPrint)
	}
}

// printOrBuffer writes data to stdout, or to the output buffer while the
// console is locked.
func (l *LinePrinter) printOrBuffer(data string) {
	if l.consoleLocked {
		l.outputBuffer.WriteString(data)
	} else {
		os.Stdout.WriteString(data)
	}
}

// PrintOnNewLine prints toPrint on its own line, first flushing any buffered
// status line so it's not clobbered.
func (l *LinePrinter) PrintOnNewLine(toPrint string) {
	if l.consoleLocked && l.lineBuffer != "" {
		l.outputBuffer.WriteString(l.lineBuffer)
		l.outputBuffer.WriteString("\n")
		l.lineBuffer = ""
	}
	if !l.haveBlankLine {
		l.printOrBuffer("\n")
	}
	if toPrint != "" {
		l.printOrBuffer(toPrint)
	}
	l.haveBlankLine = toPrint == "" || toPrint[len(toPrint)-1] == '\n'
}

// SetConsoleLocked toggles whether a console-pool edge currently owns
// stdout/stderr; unlocking replays whatever was buffered in the meantime.
func (l *LinePrinter) SetConsoleLocked(locked bool) {
	if locked == l.consoleLocked {
		return
	}

	if locked {
		l.PrintOnNewLine("")
	}

	l.consoleLocked = locked

	if !locked {
		l.PrintOnNewLine(l.outputBuffer.String())
		if l.lineBuffer != "" {
			l.Print(l.lineBuffer, l.lineType)
		}
		l.outputBuffer.Reset()
		l.lineBuffer = ""
	}
}
