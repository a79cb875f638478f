package syncclient

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

func doc(id, name string) Document {
	return Document{"id": id, "name": name}
}

func ids(list []Document) []domain.ID {
	out := make([]domain.ID, 0, len(list))
	for _, d := range list {
		out = append(out, d.ID())
	}
	return out
}

func TestApplyInsertPrepends(t *testing.T) {
	var list []Document
	list = Apply(list, Message{Op: domain.OpInsert, Doc: doc("a1", "Rohr")})
	list = Apply(list, Message{Op: domain.OpInsert, Doc: doc("a2", "Muffe")})
	assert.Equal(t, []domain.ID{"a2", "a1"}, ids(list))
}

func TestApplyUpdateReplacesAndIsIdempotent(t *testing.T) {
	list := []Document{doc("a1", "Rohr")}
	upd := Message{Op: domain.OpUpdate, Doc: doc("a1", "Rohr 2")}

	once := Apply(list, upd)
	twice := Apply(once, upd)
	assert.Equal(t, []Document{doc("a1", "Rohr 2")}, once)
	assert.Equal(t, once, twice)
}

func TestApplyMissesAreNoops(t *testing.T) {
	list := []Document{doc("a1", "Rohr")}
	assert.Equal(t, list, Apply(list, Message{Op: domain.OpUpdate, Doc: doc("zz", "x")}))
	assert.Equal(t, list, Apply(list, Message{Op: domain.OpDelete, Doc: Document{"id": "zz"}}))
	assert.Equal(t, list, Apply(list, Message{Op: "replace", Doc: doc("a1", "x")}))
}

func TestApplyDelete(t *testing.T) {
	list := []Document{doc("a1", "Rohr")}
	assert.Empty(t, Apply(list, Message{Op: domain.OpDelete, Doc: Document{"id": "a1"}}))
}

func TestApplyDuplicateInsertReplacesInPlace(t *testing.T) {
	list := []Document{doc("a2", "Muffe"), doc("a1", "Rohr")}
	list = Apply(list, Message{Op: domain.OpInsert, Doc: doc("a1", "Rohr neu")})
	assert.Equal(t, []Document{doc("a2", "Muffe"), doc("a1", "Rohr neu")}, list)
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	list := []Document{doc("a1", "Rohr"), doc("a2", "Muffe")}
	Apply(list, Message{Op: domain.OpUpdate, Doc: doc("a1", "x")})
	Apply(list, Message{Op: domain.OpDelete, Doc: Document{"id": "a1"}})
	assert.Equal(t, []Document{doc("a1", "Rohr"), doc("a2", "Muffe")}, list)
}

func TestApplyNumericIDs(t *testing.T) {
	list := []Document{{"id": float64(7), "name": "Rohr"}}
	list = Apply(list, Message{Op: domain.OpUpdate, Doc: Document{"id": "7", "name": "Rohr 2"}})
	assert.Equal(t, "Rohr 2", list[0]["name"])
}

func TestApplyRandomSequencesConverge(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pool := []string{"a1", "a2", "a3", "a4", "a5"}
	ops := []domain.Op{domain.OpInsert, domain.OpUpdate, domain.OpDelete}

	for run := 0; run < 200; run++ {
		var list []Document
		present := map[domain.ID]string{}
		for step := 0; step < 30; step++ {
			id := pool[rng.Intn(len(pool))]
			op := ops[rng.Intn(len(ops))]
			name := string(rune('a' + rng.Intn(26)))
			switch op {
			case domain.OpInsert:
				present[domain.ID(id)] = name
			case domain.OpUpdate:
				if _, ok := present[domain.ID(id)]; ok {
					present[domain.ID(id)] = name
				}
			case domain.OpDelete:
				delete(present, domain.ID(id))
			}
			list = Apply(list, Message{Op: op, Doc: doc(id, name)})
		}

		require.Len(t, list, len(present), "run %d", run)
		seen := map[domain.ID]bool{}
		for _, d := range list {
			require.False(t, seen[d.ID()], "duplicate id %s in run %d", d.ID(), run)
			seen[d.ID()] = true
			require.Equal(t, present[d.ID()], d["name"], "run %d", run)
		}
	}
}
