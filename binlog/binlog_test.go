package binlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/actorkit/tdcore/binlog/eventsproc"
	"github.com/actorkit/tdcore/internal/telemetry"
	"github.com/actorkit/tdcore/tderr"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.binlog")
}

func newLog() *Binlog { return New(telemetry.New(nil, 0)) }

func TestInitAddEventReplay(t *testing.T) {
	path := tempPath(t)

	b := newLog()
	if err := b.Init(path, Key{}, Key{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !b.WasCreated() {
		t.Fatal("expected a fresh file to report WasCreated")
	}
	for i := uint64(1); i <= 3; i++ {
		if err := b.AddEvent(eventsproc.Record{ID: i, Type: 1, Payload: []byte("abcd")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(true); err != nil {
		t.Fatal(err)
	}

	var replayed []eventsproc.Record
	b2 := newLog()
	if err := b2.Init(path, Key{}, Key{}, func(r eventsproc.Record) { replayed = append(replayed, r) }, nil); err != nil {
		t.Fatal(err)
	}
	defer b2.Close(true)
	if b2.WasCreated() {
		t.Fatal("expected existing file to report WasCreated=false")
	}
	if len(replayed) != 3 {
		t.Fatalf("expected 3 replayed records, got %d", len(replayed))
	}
	for i, r := range replayed {
		if r.ID != uint64(i+1) || string(r.Payload) != "abcd" {
			t.Fatalf("unexpected replayed record %+v", r)
		}
	}
}

func TestEncryptedRoundTripAndWrongPassword(t *testing.T) {
	path := tempPath(t)
	key := Key{Passphrase: []byte("correct horse battery staple")}

	b := newLog()
	if err := b.Init(path, key, Key{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 1, Type: 1, Payload: []byte("secret!!")}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(true); err != nil {
		t.Fatal(err)
	}

	var replayed []eventsproc.Record
	b2 := newLog()
	if err := b2.Init(path, key, Key{}, func(r eventsproc.Record) { replayed = append(replayed, r) }, nil); err != nil {
		t.Fatal(err)
	}
	if len(replayed) != 1 || string(replayed[0].Payload) != "secret!!" {
		t.Fatalf("unexpected replay with correct key: %+v", replayed)
	}
	// Init holds an exclusive file lock, so b2 must release it before b3
	// can reach the password check.
	if err := b2.Close(true); err != nil {
		t.Fatal(err)
	}

	b3 := newLog()
	err := b3.Init(path, Key{Passphrase: []byte("wrong password")}, Key{}, nil, nil)
	require.Error(t, err, "expected an error opening with the wrong password")
	require.ErrorAs(t, err, new(*tderr.WrongPassword))
}

func TestRewriteAndTombstoneSurviveReplay(t *testing.T) {
	path := tempPath(t)

	b := newLog()
	if err := b.Init(path, Key{}, Key{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 1, Type: 1, Payload: []byte("v1..")}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 1, Type: 1, Flags: eventsproc.FlagRewrite, Payload: []byte("v2!!")}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 2, Type: 1, Payload: []byte("keep")}); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 2, Type: 0, Flags: eventsproc.FlagRewrite}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(true); err != nil {
		t.Fatal(err)
	}

	var replayed []eventsproc.Record
	b2 := newLog()
	if err := b2.Init(path, Key{}, Key{}, func(r eventsproc.Record) { replayed = append(replayed, r) }, nil); err != nil {
		t.Fatal(err)
	}
	defer b2.Close(true)
	if len(replayed) != 1 || string(replayed[0].Payload) != "v2!!" {
		t.Fatalf("expected only the rewritten id 1 to survive, got %+v", replayed)
	}
}

func TestTornTailIsTruncatedOnReplay(t *testing.T) {
	path := tempPath(t)

	b := newLog()
	if err := b.Init(path, Key{}, Key{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 1, Type: 1, Payload: []byte("good")}); err != nil {
		t.Fatal(err)
	}
	if err := b.Sync(); err != nil {
		t.Fatal(err)
	}
	goodSize := b.fdSize
	if err := b.Close(true); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-write: append a few garbage bytes that look like
	// the start of a record but never complete.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{40, 0, 0, 0, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var replayed []eventsproc.Record
	b2 := newLog()
	if err := b2.Init(path, Key{}, Key{}, func(r eventsproc.Record) { replayed = append(replayed, r) }, nil); err != nil {
		t.Fatal(err)
	}
	defer b2.Close(true)
	if len(replayed) != 1 {
		t.Fatalf("expected the one complete record to survive, got %d", len(replayed))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != goodSize {
		t.Fatalf("expected torn tail truncated back to %d, file is %d", goodSize, info.Size())
	}
}

func TestChangeKeyReindexesAndPersists(t *testing.T) {
	path := tempPath(t)
	oldKey := Key{Passphrase: []byte("old-pw")}
	newKey := Key{Passphrase: []byte("new-pw")}

	b := newLog()
	if err := b.Init(path, oldKey, Key{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.AddEvent(eventsproc.Record{ID: 1, Type: 1, Payload: []byte("data")}); err != nil {
		t.Fatal(err)
	}
	b.ChangeKey(newKey)
	if err := b.Close(true); err != nil {
		t.Fatal(err)
	}

	var replayed []eventsproc.Record
	b2 := newLog()
	err := b2.Init(path, newKey, oldKey, func(r eventsproc.Record) { replayed = append(replayed, r) }, nil)
	require.NoError(t, err)
	defer b2.Close(true)
	require.Len(t, replayed, 1)
	require.Equal(t, "data", string(replayed[0].Payload))
}
