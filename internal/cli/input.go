// Package cli is the interactive tag suggestion loop used by tagtype
// for testing the controller and backends against real input.
package cli

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/onephotolife/tagserve/internal/utils"
	"github.com/onephotolife/tagserve/pkg/controller"
)

// waitSettle bounds how long one loop iteration waits for the
// controller to leave its transient states.
const waitSettle = 2 * time.Second

// InputHandler reads tag prefixes from stdin and renders what the
// suggestion controller produces: the debounce, cache and error
// behavior all run exactly as they would inside an editor client.
type InputHandler struct {
	ctrl    *controller.Controller
	settled chan controller.State
}

// NewInputHandler builds a handler around fetcher with the given
// controller options. The listener channel drives the render loop.
func NewInputHandler(fetcher controller.Fetcher, opts controller.Options) *InputHandler {
	h := &InputHandler{
		settled: make(chan controller.State, 16),
	}
	opts.Listener = func(st controller.State, _ []controller.Item) {
		select {
		case h.settled <- st:
		default:
		}
	}
	h.ctrl = controller.New(fetcher, opts)
	return h
}

// Start begins the interface loop.
// Each entered line feeds the controller as if typed; the loop waits
// for the state machine to settle, then renders the suggestion list.
// Terminates when stdin closes.
func (h *InputHandler) Start() error {
	log.Print("TagType CLI")
	log.Print("type a tag prefix and press Enter (Ctrl+C to exit):")
	reader := bufio.NewReader(os.Stdin)

	for {
		log.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		h.handleInput(line)
	}
}

// handleInput feeds one prefix through the controller and prints the
// outcome.
func (h *InputHandler) handleInput(prefix string) {
	start := time.Now()
	h.ctrl.Input(prefix)

	if !h.waitFor(controller.StateDisplaying, controller.StateError, controller.StateIdle) {
		log.Warnf("timed out waiting for suggestions for '%s'", prefix)
		return
	}
	elapsed := time.Since(start)

	switch h.ctrl.State() {
	case controller.StateError:
		log.Errorf("suggestions unavailable for '%s'", prefix)
		return
	case controller.StateIdle:
		return
	}

	items := h.ctrl.Items()
	log.Debugf("Took [ %v ] for prefix '%s'", elapsed, prefix)
	if len(items) == 0 {
		log.Warnf("No suggestions found for prefix: '%s'", prefix)
		return
	}

	log.Printf("Found %d suggestions for prefix '%s':", len(items), prefix)
	for i, item := range items {
		log.Printf("%2d. %-40s (uses: %8s)", i+1, renderTag(item), utils.FormatWithCommas(item.Count))
	}
}

// waitFor blocks until the controller reports one of the wanted states
// or the settle deadline passes.
func (h *InputHandler) waitFor(states ...controller.State) bool {
	deadline := time.After(waitSettle)
	for {
		// The state may already be settled (cache hits skip the fetch).
		cur := h.ctrl.State()
		for _, want := range states {
			if cur == want {
				return true
			}
		}
		select {
		case <-h.settled:
		case <-deadline:
			return false
		}
	}
}
