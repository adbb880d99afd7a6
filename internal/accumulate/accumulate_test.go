package accumulate

import (
	"testing"
	"time"

	"github.com/parleo-app/parleo/pkg/voice"
)

// testWindow keeps tests fast while leaving room for scheduling jitter.
const testWindow = 60 * time.Millisecond

func final(text string) voice.TranscriptFragment {
	return voice.TranscriptFragment{Text: text, IsFinal: true}
}

func interim(text string) voice.TranscriptFragment {
	return voice.TranscriptFragment{Text: text, IsFinal: false}
}

// waitUtterance reads one utterance or fails the test after a timeout.
func waitUtterance(t *testing.T, a *Accumulator) voice.Utterance {
	t.Helper()
	select {
	case u := <-a.Utterances():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance")
		return voice.Utterance{}
	}
}

// expectNoUtterance asserts nothing is emitted within d.
func expectNoUtterance(t *testing.T, a *Accumulator, d time.Duration) {
	t.Helper()
	select {
	case u := <-a.Utterances():
		t.Fatalf("unexpected utterance %q", u.Text)
	case <-time.After(d):
	}
}

func TestSingleFragmentAfterSilence(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	a.OnFragment(final("Hello"))

	u := waitUtterance(t, a)
	if u.Text != "Hello" {
		t.Fatalf("utterance = %q, want Hello", u.Text)
	}
	expectNoUtterance(t, a, 3*testWindow)
}

func TestFragmentsWithinWindowJoin(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	a.OnFragment(final("Hello"))
	time.Sleep(testWindow / 4) // well inside the window
	a.OnFragment(final("there"))

	u := waitUtterance(t, a)
	if u.Text != "Hello there" {
		t.Fatalf("utterance = %q, want %q", u.Text, "Hello there")
	}
	expectNoUtterance(t, a, 3*testWindow)
}

func TestGapBeyondWindowSplitsUtterances(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	a.OnFragment(final("first"))
	first := waitUtterance(t, a)

	a.OnFragment(final("second"))
	second := waitUtterance(t, a)

	if first.Text != "first" || second.Text != "second" {
		t.Fatalf("utterances = %q, %q; want first, second", first.Text, second.Text)
	}
}

func TestTimerRestartsOnEveryFinalFragment(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	// Keep feeding fragments at sub-window intervals: no emission may occur
	// until the feeding stops.
	words := []string{"one", "two", "three", "four"}
	for _, w := range words {
		a.OnFragment(final(w))
		select {
		case u := <-a.Utterances():
			t.Fatalf("premature utterance %q while fragments were arriving", u.Text)
		case <-time.After(testWindow / 3):
		}
	}

	u := waitUtterance(t, a)
	if u.Text != "one two three four" {
		t.Fatalf("utterance = %q, want all words joined in order", u.Text)
	}
}

func TestWhitespaceBufferNeverEmits(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	a.OnFragment(final("   "))
	a.OnFragment(final("\t"))
	expectNoUtterance(t, a, 3*testWindow)

	a.Flush()
	expectNoUtterance(t, a, testWindow)
}

func TestInterimFragmentsProduceOnlyPreviews(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	a.OnFragment(final("hola"))
	a.OnFragment(interim("com"))

	select {
	case p := <-a.Previews():
		if p.Accumulated != "hola" || p.Fragment != "com" {
			t.Fatalf("preview = %+v, want accumulated hola, fragment com", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for preview")
	}
}

func TestFlushBypassesTimer(t *testing.T) {
	a := New(Config{SilenceWindow: time.Hour})
	defer a.Close()

	a.OnFragment(final("adios"))
	a.Flush()

	u := waitUtterance(t, a)
	if u.Text != "adios" {
		t.Fatalf("utterance = %q, want adios", u.Text)
	}
	// The hour-long timer must have been cancelled: nothing further arrives.
	a.OnFragment(interim("x"))
	expectNoUtterance(t, a, 3*testWindow)
}

func TestFlushThenTimerDoesNotDuplicate(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})
	defer a.Close()

	a.OnFragment(final("once"))
	a.Flush()

	u := waitUtterance(t, a)
	if u.Text != "once" {
		t.Fatalf("utterance = %q, want once", u.Text)
	}
	expectNoUtterance(t, a, 3*testWindow)
}

func TestCloseCancelsArmedTimer(t *testing.T) {
	a := New(Config{SilenceWindow: testWindow})

	a.OnFragment(final("discarded"))
	a.Close()

	select {
	case u, ok := <-a.Utterances():
		if ok {
			t.Fatalf("unexpected utterance %q after Close", u.Text)
		}
	case <-time.After(3 * testWindow):
		t.Fatal("utterance channel not closed")
	}
}
