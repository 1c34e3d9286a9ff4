package cache

import (
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"modernc.org/sqlite"

	"github.com/threatvet/threatvet/pkg/datamodel"
)

var Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{}))

// DefaultTTL is how long a verdict stays valid before the file must be
// re-analyzed.
const DefaultTTL = 30 * 24 * time.Hour

// lruSize bounds the in-process read-through front.
const lruSize = 1024

// Entry is one cached verdict, keyed by the file's sha256.
type Entry struct {
	Sha256      string
	Level       datamodel.ThreatLevel
	Composite   float64
	Confidence  float64
	Tiers       datamodel.TierScores
	Explanation string
	AnalyzedAt  time.Time
	ExpiresAt   time.Time
}

type Cacher interface {
	// Set adds or updates a cached verdict
	Set(entry *Entry) error

	// Get fetches a cached verdict, ErrEntryNotFound covers both missing
	// and expired entries
	Get(sha256 string) (entry *Entry, err error)

	Close() error
}

var ErrEntryNotFound = errors.New("entry not found")

type Cache struct {
	db    *sql.DB
	front *lru.Cache[string, Entry]
	sync.Mutex
}

// Scores are persisted as thousandths so the schema stays integer-only.
// Absent tiers are stored as -1.
var CreateTable = `CREATE TABLE IF NOT EXISTS verdicts (
	sha256 TEXT PRIMARY KEY,
	level TEXT NOT NULL,
	composite int NOT NULL,
	confidence int NOT NULL,
	static int NOT NULL,
	ml int NOT NULL,
	behavioral int NOT NULL,
	reputation int NOT NULL,
	explanation TEXT,
	analyzed_at int NOT NULL,
	expires_at int NOT NULL );`

func NewCache(location string) (c *Cache, err error) {
	if location == "" {
		location = "file::memory:"
	} else {
		_, err = os.Stat(location)
		if errors.Is(err, os.ErrNotExist) {
			dir, _ := filepath.Split(location)
			err = os.MkdirAll(dir, 0o755)
			if err != nil {
				return
			}
			_, err = os.Create(location)
			if err != nil {
				return
			}
		}
	}
	db, err := sql.Open("sqlite", location)
	if err != nil {
		return
	}

	result, err := db.Exec(CreateTable)
	if err != nil {
		return
	}
	Logger.Info("create new db", "result", result)

	front, err := lru.New[string, Entry](lruSize)
	if err != nil {
		return
	}

	c = &Cache{db: db, front: front}
	return
}

func (c *Cache) Close() error {
	return c.db.Close()
}

var Now = time.Now

func (c *Cache) Get(sha256 string) (entry *Entry, err error) {
	if e, ok := c.front.Get(sha256); ok {
		if e.ExpiresAt.After(Now()) {
			return &e, nil
		}
		c.front.Remove(sha256)
	}

	c.Lock()
	defer c.Unlock()
	entry = &Entry{}
	var level string
	var composite, confidence, static, ml, behavioral, reputation int64
	var analyzedAt, expiresAt int64
	err = c.db.QueryRow("SELECT * FROM verdicts WHERE sha256 = ? AND expires_at > ?", sha256, Now().UnixMilli()).Scan(
		&entry.Sha256,
		&level,
		&composite,
		&confidence,
		&static,
		&ml,
		&behavioral,
		&reputation,
		&entry.Explanation,
		&analyzedAt,
		&expiresAt,
	)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, ErrEntryNotFound
		}
		return
	}
	if err = entry.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	entry.Composite = unscale(composite)
	entry.Confidence = unscale(confidence)
	entry.Tiers = datamodel.TierScores{
		Static:     tierFromDB(static),
		ML:         tierFromDB(ml),
		Behavioral: tierFromDB(behavioral),
		Reputation: tierFromDB(reputation),
	}
	entry.AnalyzedAt = time.UnixMilli(analyzedAt)
	entry.ExpiresAt = time.UnixMilli(expiresAt)

	c.front.Add(sha256, *entry)
	return
}

func (c *Cache) Set(entry *Entry) (err error) {
	c.Lock()
	defer c.Unlock()
	if entry.AnalyzedAt.UnixMilli() <= 0 {
		entry.AnalyzedAt = Now()
	}
	if entry.ExpiresAt.UnixMilli() <= 0 {
		entry.ExpiresAt = entry.AnalyzedAt.Add(DefaultTTL)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return
	}
	defer tx.Commit()
	sqlStatement := `
INSERT INTO verdicts (sha256, level, composite, confidence, static, ml, behavioral, reputation, explanation, analyzed_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	args := []any{
		entry.Sha256,
		entry.Level.String(),
		scale(entry.Composite),
		scale(entry.Confidence),
		tierToDB(entry.Tiers.Static),
		tierToDB(entry.Tiers.ML),
		tierToDB(entry.Tiers.Behavioral),
		tierToDB(entry.Tiers.Reputation),
		entry.Explanation,
		entry.AnalyzedAt.UnixMilli(),
		entry.ExpiresAt.UnixMilli(),
	}
	_, err = tx.Exec(sqlStatement, args...)
	if err == nil {
		c.front.Add(entry.Sha256, *entry)
		return
	}
	// check for update
	if e, ok := err.(*sqlite.Error); ok && e.Code() == 1555 {
		sqlStatement := `
		UPDATE verdicts SET level=$2, composite=$3, confidence=$4, static=$5, ml=$6, behavioral=$7, reputation=$8, explanation=$9, analyzed_at=$10, expires_at=$11
		WHERE sha256 = $1`
		_, err = tx.Exec(sqlStatement, args...)
		if err == nil {
			c.front.Add(entry.Sha256, *entry)
		}
		return err
	}
	return
}

func scale(v float64) int64 {
	return int64(math.Round(v * 1000))
}

func unscale(v int64) float64 {
	return float64(v) / 1000
}

func tierToDB(v *float64) int64 {
	if v == nil {
		return -1
	}
	return scale(*v)
}

func tierFromDB(v int64) *float64 {
	if v < 0 {
		return nil
	}
	f := unscale(v)
	return &f
}
