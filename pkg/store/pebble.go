package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cockroachdb/pebble"

	"flock/pkg/logger"
	"flock/pkg/models"
)

var db *pebble.DB
var dbPath string

// Key namespaces. Values are JSON.
//
//	auth:email:<email>          -> Login
//	auth:session:<token>        -> user id
//	user:<id>:profile           -> models.Profile
//	user:<id>:status            -> online status string
//	user:<id>:chats             -> []models.ChatItem
//	user:<id>:config            -> models.UserConfig
//	chat:<id>:data              -> chat snapshot (ordered messages)
//	chat:<id>:journal           -> journal snapshot (ordered events)
//	group:<id>                  -> models.Group
//	federation:servers          -> map[url]models.KnownServer
//	tag:<tag>                   -> target id
//	system:version              -> storage format version

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", zap.String("path", path))
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", zap.String("path", path))
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// SetJSON marshals v and writes it under key.
func SetJSON(key string, v interface{}) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("store_set_failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// GetJSON reads key and unmarshals it into v. Returns (false, nil) when the
// key does not exist.
func GetJSON(key string, v interface{}) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key. Missing keys are not an error.
func Delete(key string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// Has reports whether a key exists.
func Has(key string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	_, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// ListKeys returns all keys under a prefix.
func ListKeys(prefix string) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// Login is a stored credential record, keyed by email.
type Login struct {
	UserID       string `json:"uid"`
	PasswordHash string `json:"password"`
}

func SaveLogin(email string, l Login) error { return SetJSON("auth:email:"+email, l) }

func GetLogin(email string) (Login, bool, error) {
	var l Login
	ok, err := GetJSON("auth:email:"+email, &l)
	return l, ok, err
}

func SaveSession(token, uid string) error { return SetJSON("auth:session:"+token, uid) }

func GetSession(token string) (string, bool, error) {
	var uid string
	ok, err := GetJSON("auth:session:"+token, &uid)
	return uid, ok, err
}

func DeleteSession(token string) error { return Delete("auth:session:" + token) }

func SaveProfile(uid string, p models.Profile) error {
	if err := SetJSON("user:"+uid+":profile", p); err != nil {
		return err
	}
	logger.Debug("profile_saved", zap.String("user", uid))
	return nil
}

func GetProfile(uid string) (models.Profile, bool, error) {
	var p models.Profile
	ok, err := GetJSON("user:"+uid+":profile", &p)
	return p, ok, err
}

func SaveStatus(uid, status string) error { return SetJSON("user:"+uid+":status", status) }

func GetStatus(uid string) (string, bool, error) {
	var s string
	ok, err := GetJSON("user:"+uid+":status", &s)
	return s, ok, err
}

func SaveChatsList(uid string, items []models.ChatItem) error {
	return SetJSON("user:"+uid+":chats", items)
}

func GetChatsList(uid string) ([]models.ChatItem, bool, error) {
	var items []models.ChatItem
	ok, err := GetJSON("user:"+uid+":chats", &items)
	return items, ok, err
}

func SaveUserConfig(uid string, c models.UserConfig) error {
	return SetJSON("user:"+uid+":config", c)
}

func GetUserConfig(uid string) (models.UserConfig, bool, error) {
	var c models.UserConfig
	ok, err := GetJSON("user:"+uid+":config", &c)
	return c, ok, err
}

func SaveGroup(id string, g models.Group) error {
	if err := SetJSON("group:"+id, g); err != nil {
		return err
	}
	logger.Debug("group_saved", zap.String("group", id))
	return nil
}

func GetGroup(id string) (models.Group, bool, error) {
	var g models.Group
	ok, err := GetJSON("group:"+id, &g)
	return g, ok, err
}

func HasGroup(id string) (bool, error) { return Has("group:" + id) }

func SaveKnownServers(servers map[string]models.KnownServer) error {
	return SetJSON("federation:servers", servers)
}

func GetKnownServers() (map[string]models.KnownServer, error) {
	out := map[string]models.KnownServer{}
	_, err := GetJSON("federation:servers", &out)
	return out, err
}

func SaveTag(tag, target string) error { return SetJSON("tag:"+strings.ToLower(tag), target) }

func GetTag(tag string) (string, bool, error) {
	var target string
	ok, err := GetJSON("tag:"+strings.ToLower(tag), &target)
	return target, ok, err
}

func SaveFormatVersion(v string) error { return SetJSON("system:version", v) }

func GetFormatVersion() (string, error) {
	var v string
	_, err := GetJSON("system:version", &v)
	return v, err
}
