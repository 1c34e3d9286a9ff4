package cache

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/threatvet/threatvet/pkg/datamodel"
)

func TestCache(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "test in memory",
			test: func(t *testing.T) {
				cache, err := NewCache("")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				behavioral := 0.42
				entry1 := Entry{
					Sha256:      "abcdef",
					Level:       datamodel.LevelSuspicious,
					Composite:   0.42,
					Confidence:  0.9,
					Tiers:       datamodel.TierScores{Behavioral: &behavioral},
					Explanation: "some suspicious indicators",
				}
				err = cache.Set(&entry1)
				if err != nil {
					t.Errorf("cache.Set(entry1) error = %v", err)
					return
				}
				entry2, err := cache.Get(entry1.Sha256)
				if err != nil {
					t.Errorf("cache.Get(entry1.Sha256) error = %v", err)
					return
				}
				if entry1.Level != entry2.Level || entry1.Composite != entry2.Composite {
					t.Errorf("cache.Get(entry1.Sha256) != entry1, want = %v, got = %v", entry1, entry2)
					return
				}
				if entry2.Tiers.Behavioral == nil || *entry2.Tiers.Behavioral != behavioral {
					t.Errorf("behavioral tier score not preserved, got = %v", entry2.Tiers.Behavioral)
					return
				}
				if entry2.Tiers.Static != nil {
					t.Errorf("absent tier should stay nil, got = %v", *entry2.Tiers.Static)
					return
				}

				entry2.Level = datamodel.LevelMalicious
				entry2.Composite = 0.7
				err = cache.Set(entry2)
				if err != nil {
					t.Errorf("cache.Set(entry2) error = %v", err)
					return
				}
				entry3, err := cache.Get(entry2.Sha256)
				if err != nil {
					t.Errorf("cache.Get(entry2.Sha256) error = %v", err)
					return
				}
				if entry2.Level != entry3.Level || entry2.Composite != entry3.Composite {
					t.Errorf("cache.Get(entry2.Sha256) != entry2, want = %v, got = %v", entry2, entry3)
					return
				}
			},
		},
		{
			name: "test file",
			test: func(t *testing.T) {
				tfile, err := os.CreateTemp(os.TempDir(), "test_db_*.db")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				tfile.Close()
				defer os.Remove(tfile.Name())
				cache, err := NewCache(tfile.Name())
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				entry1 := Entry{
					Sha256: "abcdef",
					Level:  datamodel.LevelClean,
				}
				err = cache.Set(&entry1)
				if err != nil {
					t.Errorf("cache.Set(entry1) error = %v", err)
					return
				}

				cache.Close()
				cache2, err := NewCache(tfile.Name())
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				defer cache2.Close()
				entry, err := cache2.Get(entry1.Sha256)
				if err != nil {
					t.Errorf("cache.Get(entry1.Sha256) error = %v", err)
					return
				}
				if entry.Level != entry1.Level {
					t.Errorf("cache.Get(entry1.Sha256) != entry1, want = %v, got = %v", entry1, entry)
					return
				}
			},
		},
		{
			name: "entry not found",
			test: func(t *testing.T) {
				cache, err := NewCache("")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				_, err = cache.Get("test")
				if !errors.Is(err, ErrEntryNotFound) {
					t.Errorf("cache.Get(unknown) error = %v, want = %v", err, ErrEntryNotFound)
				}
			},
		},
		{
			name: "expired entry not returned",
			test: func(t *testing.T) {
				cache, err := NewCache("")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				defer func() { Now = time.Now }()
				base := time.Now()
				Now = func() time.Time { return base }
				err = cache.Set(&Entry{Sha256: "short", Level: datamodel.LevelMalicious})
				if err != nil {
					t.Errorf("cache.Set() error = %v", err)
					return
				}
				if _, err = cache.Get("short"); err != nil {
					t.Errorf("cache.Get(fresh) error = %v", err)
					return
				}
				Now = func() time.Time { return base.Add(DefaultTTL + time.Hour) }
				if _, err = cache.Get("short"); !errors.Is(err, ErrEntryNotFound) {
					t.Errorf("cache.Get(expired) error = %v, want = %v", err, ErrEntryNotFound)
				}
			},
		},
		{
			name: "goroutines",
			test: func(t *testing.T) {
				// prepare goroutine
				wg := sync.WaitGroup{}
				workers := 50
				wg.Add(workers)
				cache, err := NewCache("")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				worker := func(i int) {
					defer wg.Done()
					_, err := cache.Get("test")
					if !errors.Is(err, ErrEntryNotFound) {
						t.Errorf("[%d]cache.Get(unknown) error = %v, want = %v", i, err, ErrEntryNotFound)
					}
				}
				for i := 0; i < workers; i++ {
					go worker(i)
				}
				wg.Wait()
			},
		},
		{
			name: "goroutines set",
			test: func(t *testing.T) {
				// prepare goroutine
				wg := sync.WaitGroup{}
				workers := 50
				wg.Add(workers)
				cache, err := NewCache("")
				if err != nil {
					t.Errorf("NewCache() error = %v", err)
					return
				}
				worker := func(i int) {
					defer wg.Done()
					err := cache.Set(&Entry{Sha256: "test"})
					if !errors.Is(err, nil) {
						t.Errorf("[%d]cache.Set(unknown) error = %v", i, err)
					}
				}
				for i := 0; i < workers; i++ {
					go worker(i)
				}
				wg.Wait()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}
