// Package clienttest provides an in-memory client.Client for tests.
package clienttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/common"
)

// Call records one operation received by the fake.
type Call struct {
	Method     string
	Collection string
	ID         string
	Payload    json.RawMessage
}

// Fake stores rows per collection in insertion order. Ids are assigned as
// "<collection>-<n>" unless NextID is set.
type Fake struct {
	mu       sync.Mutex
	rows     map[string][]map[string]any
	calls    []Call
	seq      int
	session  client.Session
	user     models.User
	down     bool
	failures map[string]error

	// Hook, when set, runs before every data call outside the lock. It may
	// block to simulate a slow server or return an error to fail the call.
	Hook   func(Call) error
	NextID func(collection string) string
}

func New() *Fake {
	return &Fake{
		rows:     map[string][]map[string]any{},
		failures: map[string]error{},
		user:     models.User{ID: "u1", Email: "user@example.com"},
	}
}

// SetDown makes every call fail with client.ErrUnavailable.
func (f *Fake) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// FailOn makes calls of method on collection fail with err ("" matches any
// collection). A nil err clears the failure.
func (f *Fake) FailOn(method, collection string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + "/" + collection
	if err == nil {
		delete(f.failures, key)
		return
	}
	f.failures[key] = err
}

func (f *Fake) SetUser(u models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = u
}

// Seed stores record in collection as-is.
func (f *Fake) Seed(collection string, record any) {
	raw, err := json.Marshal(record)
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[collection] = append(f.rows[collection], m)
}

// Rows returns a copy of the stored rows of collection.
func (f *Fake) Rows(collection string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]json.RawMessage, 0, len(f.rows[collection]))
	for _, r := range f.rows[collection] {
		b, _ := json.Marshal(r)
		out = append(out, b)
	}
	return out
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) begin(call Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	down := f.down
	err := f.failures[call.Method+"/"+call.Collection]
	if err == nil {
		err = f.failures[call.Method+"/"]
	}
	hook := f.Hook
	f.mu.Unlock()

	if down {
		return client.ErrUnavailable
	}
	if hook != nil {
		if herr := hook(call); herr != nil {
			return herr
		}
	}
	return err
}

func (f *Fake) Close() error { return nil }

func (f *Fake) Ping(ctx context.Context) error {
	return f.begin(Call{Method: "Ping"})
}

func (f *Fake) Register(ctx context.Context, email, password, fullName string) (string, error) {
	if err := f.begin(Call{Method: "Register"}); err != nil {
		return "", err
	}
	return "u-new", nil
}

func (f *Fake) Login(ctx context.Context, email, password string) (models.User, error) {
	if err := f.begin(Call{Method: "Login"}); err != nil {
		return models.User{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = client.Session{AccessToken: "access", RefreshToken: "refresh"}
	u := f.user
	u.Email = email
	return u, nil
}

func (f *Fake) CurrentUser(ctx context.Context) (models.User, error) {
	if err := f.begin(Call{Method: "CurrentUser"}); err != nil {
		return models.User{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.AccessToken == "" {
		return models.User{}, client.ErrUnauthorized
	}
	return f.user, nil
}

func (f *Fake) Session() client.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *Fake) Restore(s client.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

func (f *Fake) Logout() { f.Restore(client.Session{}) }

func (f *Fake) Insert(ctx context.Context, collection string, records []json.RawMessage) ([]json.RawMessage, error) {
	payload, _ := json.Marshal(records)
	if err := f.begin(Call{Method: "Insert", Collection: collection, Payload: payload}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		var m map[string]any
		if err := json.Unmarshal(rec, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
		}
		id, _ := m["id"].(string)
		if id == "" || models.IsTempID(id) {
			m["id"] = f.newID(collection)
		}
		f.rows[collection] = append(f.rows[collection], m)
		b, _ := json.Marshal(m)
		out = append(out, b)
	}
	return out, nil
}

func (f *Fake) newID(collection string) string {
	if f.NextID != nil {
		return f.NextID(collection)
	}
	f.seq++
	return fmt.Sprintf("%s-%d", collection, f.seq)
}

func (f *Fake) Update(ctx context.Context, collection, id string, patch json.RawMessage) (json.RawMessage, error) {
	if err := f.begin(Call{Method: "Update", Collection: collection, ID: id, Payload: patch}); err != nil {
		return nil, err
	}

	var p map[string]any
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[collection] {
		if row["id"] == id {
			for k, v := range p {
				if k != "id" {
					row[k] = v
				}
			}
			return json.Marshal(row)
		}
	}
	return nil, common.ErrorNotFound
}

func (f *Fake) Delete(ctx context.Context, collection, id string) error {
	if err := f.begin(Call{Method: "Delete", Collection: collection, ID: id}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[collection]
	for i, row := range rows {
		if row["id"] == id {
			f.rows[collection] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *Fake) Select(ctx context.Context, collection string, q client.Query) ([]json.RawMessage, error) {
	if err := f.begin(Call{Method: "Select", Collection: collection}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []map[string]any
	for _, row := range f.rows[collection] {
		ok := true
		for k, v := range q.Filter {
			if fmt.Sprint(row[k]) != v {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, row)
		}
	}

	if q.Order != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := fmt.Sprint(matched[i][q.Order]), fmt.Sprint(matched[j][q.Order])
			if q.Desc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]json.RawMessage, 0, len(matched))
	for _, row := range matched {
		b, _ := json.Marshal(row)
		out = append(out, b)
	}
	return out, nil
}

func (f *Fake) Increment(ctx context.Context, collection, id, field string) error {
	if err := f.begin(Call{Method: "Increment", Collection: collection, ID: id}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows[collection] {
		if row["id"] == id {
			n, _ := row[field].(float64)
			row[field] = n + 1
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *Fake) Upload(ctx context.Context, bucket, path string, blob []byte) (string, error) {
	if err := f.begin(Call{Method: "Upload", Collection: bucket, ID: path}); err != nil {
		return "", err
	}
	return "https://storage.example.com/" + bucket + "/" + path, nil
}

func (f *Fake) Remove(ctx context.Context, bucket, path string) error {
	return f.begin(Call{Method: "Remove", Collection: bucket, ID: path})
}

var _ client.Client = (*Fake)(nil)
