package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/personaplex/voicegate/internal/audio"
	"github.com/personaplex/voicegate/internal/backend"
	"github.com/personaplex/voicegate/internal/domain"
)

const testRate = 24000

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validUpload(seconds float64) []byte {
	samples := int(seconds * testRate)
	return audio.EncodeWAV(audio.PCM{SampleRate: testRate, Data: make([]byte, samples*2)})
}

// fakeSession scripts one backend session. The script function runs in its
// own goroutine and must call finish when the backend is done talking.
type fakeSession struct {
	units chan backend.Unit

	mu       sync.Mutex
	sent     [][]byte
	sentText []string

	readErr    error
	finishOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{units: make(chan backend.Unit, 16)}
}

func (s *fakeSession) Send(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrBackend(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte{}, chunk...))
	return nil
}

func (s *fakeSession) SendText(ctx context.Context, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentText = append(s.sentText, msg)
	return nil
}

func (s *fakeSession) Receive() <-chan backend.Unit { return s.units }

func (s *fakeSession) Err() error { return s.readErr }

func (s *fakeSession) Close() { s.finish() }

func (s *fakeSession) finish() {
	s.finishOnce.Do(func() { close(s.units) })
}

func (s *fakeSession) sentBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []byte
	for _, chunk := range s.sent {
		all = append(all, chunk...)
	}
	return all
}

// spyOpener counts Open calls and hands out a scripted session.
type spyOpener struct {
	mu      sync.Mutex
	opens   int
	session *fakeSession
	openErr error
}

func (o *spyOpener) Open(ctx context.Context) (Session, error) {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.session, nil
}

func (o *spyOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func newTestPipeline(opener Opener, timeout time.Duration) *Pipeline {
	return &Pipeline{
		opener:     opener,
		sampleRate: testRate,
		timeout:    timeout,
		logger:     testLogger(),
	}
}

func TestPipeline_AssemblesChunksInOrder(t *testing.T) {
	sess := newFakeSession()
	opener := &spyOpener{session: sess}
	p := newTestPipeline(opener, 5*time.Second)

	chunk1 := bytes.Repeat([]byte{0x01, 0x02}, 100)
	chunk2 := bytes.Repeat([]byte{0x03, 0x04}, 100)
	go func() {
		sess.units <- backend.Unit{Audio: chunk1}
		// Artificial delay between output chunks must not break assembly.
		time.Sleep(150 * time.Millisecond)
		sess.units <- backend.Unit{Text: "the transcript"}
		sess.units <- backend.Unit{Audio: chunk2}
		sess.finish()
	}()

	result, err := p.Process(context.Background(), validUpload(1.0), Params{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := audio.EncodeWAV(audio.PCM{SampleRate: testRate, Data: append(append([]byte{}, chunk1...), chunk2...)})
	if !bytes.Equal(result.WAV, want) {
		t.Error("assembled WAV does not equal the two chunks concatenated in order")
	}
	if result.Transcript != "the transcript" {
		t.Errorf("Transcript = %q, want %q", result.Transcript, "the transcript")
	}

	// Text fragments must not leak into the waveform.
	pcm, err := audio.DecodeWAV(result.WAV, testRate)
	if err != nil {
		t.Fatalf("output WAV not decodable: %v", err)
	}
	if len(pcm.Data) != len(chunk1)+len(chunk2) {
		t.Errorf("output data length = %d, want %d", len(pcm.Data), len(chunk1)+len(chunk2))
	}
}

func TestPipeline_FeedsWholeInputInChunks(t *testing.T) {
	sess := newFakeSession()
	opener := &spyOpener{session: sess}
	p := newTestPipeline(opener, 5*time.Second)

	upload := validUpload(0.5)
	go func() {
		sess.units <- backend.Unit{Audio: []byte{0, 0}}
		sess.finish()
	}()

	if _, err := p.Process(context.Background(), upload, Params{}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	pcm, _ := audio.DecodeWAV(upload, testRate)
	if got := sess.sentBytes(); !bytes.Equal(got, pcm.Data) {
		t.Errorf("backend received %d bytes, want the full %d-byte input", len(got), len(pcm.Data))
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i, chunk := range sess.sent {
		if len(chunk) > chunkSize {
			t.Errorf("chunk %d is %d bytes, want <= %d", i, len(chunk), chunkSize)
		}
	}
}

func TestPipeline_ParamsSentFirst(t *testing.T) {
	sess := newFakeSession()
	opener := &spyOpener{session: sess}
	p := newTestPipeline(opener, 5*time.Second)

	go func() {
		sess.units <- backend.Unit{Audio: []byte{0, 0}}
		sess.finish()
	}()

	params := Params{Voice: "NATF2", Persona: "You are a helpful assistant."}
	if _, err := p.Process(context.Background(), validUpload(0.1), params); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.sentText) != 1 {
		t.Fatalf("sent %d text frames, want 1 config frame", len(sess.sentText))
	}
	var got Params
	if err := json.Unmarshal([]byte(sess.sentText[0]), &got); err != nil {
		t.Fatalf("config frame is not JSON: %v", err)
	}
	if got != params {
		t.Errorf("config frame = %+v, want %+v", got, params)
	}
}

func TestPipeline_MalformedUploadNeverOpensSession(t *testing.T) {
	opener := &spyOpener{session: newFakeSession()}
	p := newTestPipeline(opener, 5*time.Second)

	uploads := [][]byte{
		nil,
		[]byte("not audio at all"),
		validUpload(0.1)[:30],
	}
	for _, upload := range uploads {
		_, err := p.Process(context.Background(), upload, Params{})
		if !errors.Is(err, domain.ErrInvalidAudioFormat("")) {
			t.Errorf("Process(malformed) error = %v, want invalid audio format", err)
		}
	}

	if n := opener.openCount(); n != 0 {
		t.Errorf("backend sessions opened = %d, want 0 for rejected uploads", n)
	}
}

func TestPipeline_Timeout(t *testing.T) {
	// Backend that accepts input but never produces output or end-of-turn.
	sess := newFakeSession()
	opener := &spyOpener{session: sess}
	p := newTestPipeline(opener, 200*time.Millisecond)

	start := time.Now()
	_, err := p.Process(context.Background(), validUpload(0.1), Params{})
	if !errors.Is(err, domain.ErrTimeout("")) {
		t.Fatalf("Process() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Process() took %v, want bounded by the timeout", elapsed)
	}
}

func TestPipeline_BackendErrorNotPartialSuccess(t *testing.T) {
	sess := newFakeSession()
	sess.readErr = domain.ErrBackend("connection reset")
	opener := &spyOpener{session: sess}
	p := newTestPipeline(opener, 5*time.Second)

	go func() {
		// Some output arrives, then the session dies.
		sess.units <- backend.Unit{Audio: bytes.Repeat([]byte{1, 1}, 50)}
		sess.finish()
	}()

	result, err := p.Process(context.Background(), validUpload(0.1), Params{})
	if !errors.Is(err, domain.ErrBackend("")) {
		t.Fatalf("Process() error = %v, want backend error", err)
	}
	if result != nil {
		t.Error("Process() returned a partial result alongside an error")
	}
}

func TestPipeline_OpenFailurePropagates(t *testing.T) {
	opener := &spyOpener{openErr: domain.ErrBackendUnreachable("dial refused")}
	p := newTestPipeline(opener, time.Second)

	_, err := p.Process(context.Background(), validUpload(0.1), Params{})
	if !errors.Is(err, domain.ErrBackendUnreachable("")) {
		t.Fatalf("Process() error = %v, want backend unreachable", err)
	}
}
