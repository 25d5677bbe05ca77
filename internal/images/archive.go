package images

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const indexFile = "images.jsonl"

// Record describes one archived image.
type Record struct {
	File      string    `json:"file"`
	Prompt    string    `json:"prompt"`
	Seed      int64     `json:"seed"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// Archive stores generated images as <baseDir>/<session>/<unix-nano>.png
// with an images.jsonl index per session. A nil *Archive discards everything.
type Archive struct {
	mu      sync.Mutex
	baseDir string
	now     func() time.Time
}

// NewArchive creates an Archive rooted at baseDir. An empty dir or "-" disables archiving.
func NewArchive(baseDir string) *Archive {
	if baseDir == "" || baseDir == "-" {
		return nil
	}
	return &Archive{baseDir: baseDir, now: time.Now}
}

// Save writes img under sessionID and returns its path.
func (a *Archive) Save(sessionID string, img *Image) (string, error) {
	if a == nil {
		return "", nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := filepath.Join(a.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	now := a.now()
	name := fmt.Sprintf("%d.png", now.UnixNano())
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, img.PNG, 0o644); err != nil {
		return "", fmt.Errorf("write image tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename image: %w", err)
	}

	rec := Record{
		File:      name,
		Prompt:    img.Prompt,
		Seed:      img.Seed,
		Width:     img.Width,
		Height:    img.Height,
		CreatedAt: now,
	}
	if err := appendJSONL(filepath.Join(dir, indexFile), rec); err != nil {
		return path, err
	}
	return path, nil
}

// List returns the archived records for sessionID, oldest first.
func (a *Archive) List(sessionID string) ([]Record, error) {
	if a == nil {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(filepath.Join(a.baseDir, sessionID, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open image index: %w", err)
	}
	defer f.Close()

	var recs []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue // skip corrupted lines
		}
		recs = append(recs, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan image index: %w", err)
	}
	return recs, nil
}

// Remove deletes every archived image of sessionID.
func (a *Archive) Remove(sessionID string) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return os.RemoveAll(filepath.Join(a.baseDir, sessionID))
}

func appendJSONL(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal image record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open image index: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write image index: %w", err)
	}
	return nil
}
