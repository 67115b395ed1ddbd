package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"agentflow/pkg/models"
)

// Fingerprint produces a canonical, order-independent key over a task's
// defining fields: the operations it performs, the identifiers it targets,
// and its free-text context. Operations and targets are sorted and the
// context is hashed, so two structurally identical tasks collide even when
// their incidental metadata (id, priority, timestamps) differs.
func Fingerprint(operations, targets []string, context string) string {
	ops := append([]string(nil), operations...)
	tgts := append([]string(nil), targets...)
	sort.Strings(ops)
	sort.Strings(tgts)

	ctxSum := sha256.Sum256([]byte(context))

	h := sha256.New()
	fmt.Fprintf(h, "ops:%s|targets:%s|ctx:%s",
		strings.Join(ops, ","),
		strings.Join(tgts, ","),
		hex.EncodeToString(ctxSum[:]))
	return hex.EncodeToString(h.Sum(nil))
}

// TaskFingerprint keys a task by its type and input payload only. The
// payload is serialized through encoding/json, which writes map keys in
// sorted order, so structurally equal inputs produce equal keys. ID,
// priority, dependencies and timestamps are deliberately excluded.
func TaskFingerprint(task models.Task) (string, error) {
	payload, err := json.Marshal(task.Input)
	if err != nil {
		return "", fmt.Errorf("marshal task input: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "type:%s|input:%s", task.Type, payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
