// This file implements the interactive search command: a terminal UI over
// the query engine.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adalundhe/loupe/core/engine"
	"github.com/adalundhe/loupe/core/retriever"
)

// =============================================================================
// Interactive Search Constants
// =============================================================================

const (
	// ANSI escape codes for terminal control
	escClearScreen = "\033[2J"
	escMoveCursor  = "\033[%d;%dH"
	escHideCursor  = "\033[?25l"
	escShowCursor  = "\033[?25h"
	escBold        = "\033[1m"
	escDim         = "\033[2m"
	escReset       = "\033[0m"
	escReverse     = "\033[7m"
	escCyan        = "\033[36m"
	escYellow      = "\033[33m"
	escGreen       = "\033[32m"
	escMagenta     = "\033[35m"

	// Key codes
	keyEnter     = 13
	keyEscape    = 27
	keyBackspace = 127
	keyCtrlC     = 3
	keyCtrlD     = 4
	keyTab       = 9

	// Display settings
	searchMaxResults = 10
	searchDebounceMS = 150
	searchMaxExplain = 5
	searchMaxWidth   = 80
)

// =============================================================================
// Interactive Search Command
// =============================================================================

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Interactive retrieval mode",
	Long: `Launch an interactive terminal interface over the query engine.

Results update as you type, ranked by fused confidence. The selected
result's signal breakdown is shown inline.

Controls:
  Up/Down arrows   Navigate results
  Enter            Select result (print entity id)
  Tab              Toggle signal breakdown
  Escape/q         Quit
  Ctrl+C/Ctrl+D    Force quit`,
	RunE: runSearch,
}

var searchExplain bool

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().BoolVarP(&searchExplain, "explain", "e", true, "Show signal breakdown for the selection")
}

// QueryRunner is the engine contract the interactive UI consumes; narrowed
// for testability.
type QueryRunner interface {
	Query(ctx context.Context, req retriever.Request) (*engine.Response, error)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, _, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.Snapshot() == nil {
		return fmt.Errorf("no corpus indexed; run 'loupe index' first")
	}

	searcher := NewInteractiveSearcher(e, os.Stdin, os.Stdout)
	searcher.showExplain = searchExplain
	return searcher.Run()
}

// =============================================================================
// InteractiveSearcher
// =============================================================================

// InteractiveSearcher renders an incremental query loop in the terminal.
type InteractiveSearcher struct {
	runner      QueryRunner
	packs       []engine.Pack
	fallback    bool
	selected    int
	query       string
	running     bool
	termWidth   int
	termHeight  int
	stdin       io.Reader
	stdout      io.Writer
	oldState    *term.State
	lastSearch  time.Time
	showExplain bool
}

// NewInteractiveSearcher creates an interactive searcher over the runner.
func NewInteractiveSearcher(runner QueryRunner, stdin io.Reader, stdout io.Writer) *InteractiveSearcher {
	return &InteractiveSearcher{
		runner:      runner,
		stdin:       stdin,
		stdout:      stdout,
		showExplain: true,
	}
}

// Run starts the interactive loop. Requires a terminal on stdin.
func (s *InteractiveSearcher) Run() error {
	stdinFd, ok := s.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(stdinFd.Fd())) {
		return fmt.Errorf("interactive search requires a terminal")
	}

	width, height, err := term.GetSize(int(stdinFd.Fd()))
	if err != nil {
		s.termWidth, s.termHeight = 80, 24
	} else {
		s.termWidth, s.termHeight = width, height
	}

	oldState, err := term.MakeRaw(int(stdinFd.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	s.oldState = oldState
	defer s.restore()

	s.running = true
	s.hideCursor()
	s.clearScreen()
	s.render()

	return s.readInput()
}

func (s *InteractiveSearcher) restore() {
	s.showCursor()
	if s.oldState != nil {
		if stdin, ok := s.stdin.(*os.File); ok {
			_ = term.Restore(int(stdin.Fd()), s.oldState)
		}
	}
}

// =============================================================================
// Input Handling
// =============================================================================

func (s *InteractiveSearcher) readInput() error {
	reader := bufio.NewReader(s.stdin)

	for s.running {
		b, err := reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				s.running = false
				break
			}
			return err
		}

		if err := s.handleKey(b, reader); err != nil {
			return err
		}
	}
	return nil
}

func (s *InteractiveSearcher) handleKey(b byte, reader *bufio.Reader) error {
	switch b {
	case keyCtrlC, keyCtrlD:
		s.running = false
		return nil

	case keyEscape:
		return s.handleEscapeSequence(reader)

	case keyEnter:
		s.selectResult()
		return nil

	case keyBackspace:
		if len(s.query) > 0 {
			s.query = s.query[:len(s.query)-1]
		}
		s.performSearch()
		s.render()
		return nil

	case keyTab:
		s.showExplain = !s.showExplain
		s.render()
		return nil

	case 'q':
		if s.query == "" {
			s.running = false
			return nil
		}
		s.handleCharacter(b)
		return nil

	default:
		if b >= 32 && b < 127 {
			s.handleCharacter(b)
		}
		return nil
	}
}

func (s *InteractiveSearcher) handleEscapeSequence(reader *bufio.Reader) error {
	b1, err := reader.ReadByte()
	if err != nil || b1 != '[' {
		s.running = false
		return nil
	}

	b2, err := reader.ReadByte()
	if err != nil {
		return nil
	}

	switch b2 {
	case 'A':
		if s.selected > 0 {
			s.selected--
		}
		s.render()
	case 'B':
		if s.selected < len(s.packs)-1 && s.selected < searchMaxResults-1 {
			s.selected++
		}
		s.render()
	}
	return nil
}

func (s *InteractiveSearcher) handleCharacter(b byte) {
	s.query += string(b)
	s.performSearch()
	s.render()
}

// selectResult prints the selection's entity id and exits.
func (s *InteractiveSearcher) selectResult() {
	s.running = false
	if len(s.packs) > 0 && s.selected < len(s.packs) {
		s.clearScreen()
		s.moveCursor(1, 1)
		s.showCursor()
		fmt.Fprintln(s.stdout, s.packs[s.selected].EntityID+"\r")
	}
}

// =============================================================================
// Search
// =============================================================================

func (s *InteractiveSearcher) performSearch() {
	now := time.Now()
	if now.Sub(s.lastSearch) < time.Millisecond*searchDebounceMS {
		return
	}
	s.lastSearch = now

	if strings.TrimSpace(s.query) == "" {
		s.packs = nil
		s.fallback = false
		s.selected = 0
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := s.runner.Query(ctx, retriever.Request{
		Intent:     s.query,
		MaxResults: searchMaxResults,
	})
	if err != nil {
		s.packs = nil
		return
	}

	s.packs = resp.Packs
	s.fallback = resp.Fallback
	s.selected = 0
}

// =============================================================================
// Rendering
// =============================================================================

func (s *InteractiveSearcher) render() {
	s.moveCursor(1, 1)
	s.clearScreen()

	header := fmt.Sprintf("%s%s Loupe %s", escBold, escCyan, escReset)
	fmt.Fprintln(s.stdout, header+"\r")
	fmt.Fprintln(s.stdout, strings.Repeat("-", minInt(s.termWidth, 60))+"\r")

	fmt.Fprintf(s.stdout, "%s> %s%s\r\n\r\n", escYellow, escReset, s.query)

	s.renderResults()
	if s.showExplain && len(s.packs) > 0 {
		s.renderExplanation()
	}

	fmt.Fprintln(s.stdout, "\r")
	fmt.Fprintf(s.stdout, "%s[Up/Down: Navigate] [Enter: Select] [Tab: Toggle Signals] [Esc/q: Quit]%s\r\n",
		escDim, escReset)
}

func (s *InteractiveSearcher) renderResults() {
	if len(s.packs) == 0 {
		if s.query != "" {
			fmt.Fprintf(s.stdout, "%sNo results%s\r\n", escDim, escReset)
		} else {
			fmt.Fprintf(s.stdout, "%sType to search...%s\r\n", escDim, escReset)
		}
		return
	}

	if s.fallback {
		fmt.Fprintf(s.stdout, "%sFallback result set; confidence capped%s\r\n", escYellow, escReset)
	}

	for i := 0; i < len(s.packs) && i < searchMaxResults; i++ {
		s.renderResultItem(i)
	}
}

func (s *InteractiveSearcher) renderResultItem(index int) {
	pack := s.packs[index]
	prefix, style := "  ", ""
	if index == s.selected {
		prefix, style = "> ", escReverse
	}

	v, _ := pack.Combined.Numeric()
	location := truncateString(fmt.Sprintf("%s:%d", pack.Path, pack.Line), s.termWidth-30)
	fmt.Fprintf(s.stdout, "%s%s%s %s%s %s(%.2f)%s\r\n",
		prefix, style, pack.Name, escDim, location, escGreen, v, escReset)
}

// renderExplanation shows the selected pack's scoring evidence.
func (s *InteractiveSearcher) renderExplanation() {
	if s.selected >= len(s.packs) {
		return
	}
	pack := s.packs[s.selected]

	fmt.Fprintln(s.stdout, "\r")
	fmt.Fprintf(s.stdout, "%s%s Signals: %s %s\r\n", escBold, escMagenta, pack.EntityID, escReset)
	fmt.Fprintln(s.stdout, strings.Repeat("-", minInt(s.termWidth, searchMaxWidth))+"\r")

	shown := 0
	for _, line := range pack.Explanation {
		if shown >= searchMaxExplain {
			fmt.Fprintf(s.stdout, "%s... %d more%s\r\n", escDim, len(pack.Explanation)-shown, escReset)
			break
		}
		if len(line) > searchMaxWidth {
			line = line[:searchMaxWidth-3] + "..."
		}
		fmt.Fprintf(s.stdout, "%s- %s%s\r\n", escDim, escReset, line)
		shown++
	}
}

// =============================================================================
// Terminal Control Helpers
// =============================================================================

func (s *InteractiveSearcher) clearScreen() {
	fmt.Fprint(s.stdout, escClearScreen)
}

func (s *InteractiveSearcher) moveCursor(row, col int) {
	fmt.Fprintf(s.stdout, escMoveCursor, row, col)
}

func (s *InteractiveSearcher) hideCursor() {
	fmt.Fprint(s.stdout, escHideCursor)
}

func (s *InteractiveSearcher) showCursor() {
	fmt.Fprint(s.stdout, escShowCursor)
}

// =============================================================================
// Utility Functions
// =============================================================================

func truncateString(v string, max int) string {
	if max <= 3 || len(v) <= max {
		return v
	}
	return "..." + v[len(v)-(max-3):]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
