package config

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/technosupport/remotehub/internal/auth"
	"gopkg.in/yaml.v3"
)

// seed is one compiled-in administrator, expressed as a plaintext password
// that gets hashed once at startup. Persistent identity and password
// issuance are out of scope for this hub (spec.md §1 Non-goals) — this list
// is the assumed seed, the same way the teacher never attempted password
// issuance for its compiled-in fixtures either.
type seed struct {
	username       string
	password       string
	allowedTenants []string
}

var compiledSeeds = []seed{
	{username: "adminCLA", password: "@ims1234!", allowedTenants: []string{"CLA1", "CLA2"}},
	{username: "adminDLA", password: "@ims5678!", allowedTenants: []string{"DLA1", "DLA2"}},
	{username: "root", password: "@ims0000!", allowedTenants: []string{"*"}},
}

// AdminDirectory resolves usernames to auth.Admin records, merging a
// compiled-in seed list with an optional on-disk overlay file that is
// hot-reloaded without a restart.
type AdminDirectory struct {
	mu       sync.RWMutex
	compiled map[string]auth.Admin
	overlay  map[string]auth.Admin
}

// overlayFile is the on-disk shape of config/admins.yaml.
type overlayFile struct {
	Admins []struct {
		Username       string   `yaml:"username"`
		PasswordHash   string   `yaml:"password_hash"`
		AllowedTenants []string `yaml:"allowed_tenants"`
	} `yaml:"admins"`
}

// NewAdminDirectory hashes the compiled-in seed list once and returns a
// directory ready to serve lookups; the overlay starts empty until Load or
// Watch populates it.
func NewAdminDirectory() *AdminDirectory {
	compiled := make(map[string]auth.Admin, len(compiledSeeds))
	for _, s := range compiledSeeds {
		hash, err := auth.HashPassword(s.password)
		if err != nil {
			log.Panicf("config: failed to hash compiled-in seed for %s: %v", s.username, err)
		}
		compiled[s.username] = auth.Admin{Username: s.username, PasswordHash: hash, AllowedTenants: s.allowedTenants}
	}
	return &AdminDirectory{compiled: compiled, overlay: make(map[string]auth.Admin)}
}

// Lookup implements auth.AdminDirectory. The overlay takes precedence over
// the compiled-in list so operators can rotate a password or tenant grant
// without a rebuild.
func (d *AdminDirectory) Lookup(username string) (auth.Admin, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.overlay[username]; ok {
		return a, true
	}
	a, ok := d.compiled[username]
	return a, ok
}

// LoadOverlay reads path (if present) and replaces the overlay map. A
// missing file clears the overlay back to empty rather than erroring, so
// deleting config/admins.yaml is a valid way to revert to the compiled-in
// list.
func (d *AdminDirectory) LoadOverlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			d.mu.Lock()
			d.overlay = make(map[string]auth.Admin)
			d.mu.Unlock()
			return nil
		}
		return err
	}

	var f overlayFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}

	next := make(map[string]auth.Admin, len(f.Admins))
	for _, a := range f.Admins {
		next[a.Username] = auth.Admin{
			Username:       a.Username,
			PasswordHash:   a.PasswordHash,
			AllowedTenants: a.AllowedTenants,
		}
	}

	d.mu.Lock()
	d.overlay = next
	d.mu.Unlock()
	return nil
}

// Watch loads path once and then keeps it in sync via fsnotify, falling
// back to 60s polling if the watcher can't be established — the same
// dual-strategy shape as the teacher's license file watcher.
func (d *AdminDirectory) Watch(ctx context.Context, path string) {
	if err := d.LoadOverlay(path); err != nil {
		log.Printf("config: initial admin overlay load failed: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("config: admin overlay watcher unavailable (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(path); err != nil {
		log.Printf("config: admin overlay watch failed for %s (%v), falling back to polling", path, err)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						if err := d.LoadOverlay(path); err != nil {
							log.Printf("config: admin overlay reload failed: %v", err)
						}
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("config: admin overlay watcher error: %v", err)
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.LoadOverlay(path); err != nil {
					log.Printf("config: admin overlay poll reload failed: %v", err)
				}
			}
		}
	}()
}
