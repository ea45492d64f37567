package documents

import (
	"context"
	"encoding/json"
	"maps"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"oidkeeper/internal/application/session"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/domain/ports"
)

// ErrNotDocument is returned when a patch targets a payload that is not a generic document
var ErrNotDocument = errors.New("payload is not a document")

// View is the external form of a stored object
type View struct {
	Oid     string         `json:"oid"`
	Version models.Version `json:"version"`
	Data    any            `json:"data"`
}

// ViewOf renders an adapter
func ViewOf(a *models.ObjectAdapter) (View, error) {
	payload, err := a.Payload()
	if err != nil {
		return View{}, err
	}
	v, _ := a.Version()
	return View{Oid: a.Oid().String(), Version: v, Data: payload}, nil
}

// Query selects documents of one type
type Query struct {
	TypeTag string
	Filter  string
	Limit   int
	Keys    []string
}

// Spec converts the query into a store query
func (q Query) Spec() ports.QuerySpec {
	opts := []ports.Option{ports.WithFilter(q.Filter), ports.WithLimit(q.Limit)}
	if len(q.Keys) > 0 {
		oids := make([]models.Oid, 0, len(q.Keys))
		for _, k := range q.Keys {
			oids = append(oids, models.NewRootOid(q.TypeTag, k))
		}
		opts = append(opts, ports.WithScope(ports.NewOidScope(oids...)))
	}
	return ports.NewQuery(q.TypeTag, opts...)
}

// Service runs document operations, each in its own session
type Service struct {
	sessions *session.Factory
}

// NewService creates a document service
func NewService(sessions *session.Factory) *Service {
	return &Service{sessions: sessions}
}

func (s *Service) withSession(fn func(*session.Session) error) error {
	sess := s.sessions.OpenSession()
	err := fn(sess)
	if cerr := s.sessions.CloseSession(sess); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Get returns the stored object oid
func (s *Service) Get(ctx context.Context, oid models.Oid) (View, error) {
	var view View
	err := s.withSession(func(sess *session.Session) error {
		a, err := sess.Load(ctx, oid)
		if err != nil {
			return err
		}
		view, err = ViewOf(a)
		return err
	})
	return view, err
}

// List returns the stored objects matching q ordered by primary key
func (s *Service) List(ctx context.Context, q Query) ([]View, error) {
	views := []View{}
	err := s.withSession(func(sess *session.Session) error {
		adapters, err := sess.Query(ctx, q.Spec())
		if err != nil {
			return err
		}
		for _, a := range adapters {
			view, err := ViewOf(a)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	return views, err
}

// Put stores doc as a new object of typeTag
func (s *Service) Put(ctx context.Context, typeTag string, doc map[string]any) (View, error) {
	var created *models.ObjectAdapter
	err := s.withSession(func(sess *session.Session) error {
		return sess.RunInTransaction(ctx, func(ctx context.Context, sess *session.Session) error {
			a, err := sess.NewTransient(typeTag, doc)
			if err != nil {
				return err
			}
			created = a
			return sess.MakePersistent(a)
		})
	})
	if err != nil {
		return View{}, err
	}
	return ViewOf(created)
}

// Patch applies patch to the stored document as a JSON merge patch (RFC 7386), retrying on conflicts.
// A null member removes the field.
func (s *Service) Patch(ctx context.Context, oid models.Oid, patch map[string]any) (View, error) {
	fields := sets.List(sets.KeySet(patch))
	if len(fields) == 0 {
		return View{}, errors.New("patch has no fields")
	}
	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return View{}, errors.Wrap(err, "failed to encode patch")
	}

	var patched *models.ObjectAdapter
	err = s.sessions.RetryOnConflict(ctx, func(ctx context.Context, sess *session.Session) error {
		a, err := sess.Load(ctx, oid)
		if err != nil {
			return err
		}
		payload, err := a.PayloadMut()
		if err != nil {
			return err
		}
		doc, ok := payload.(map[string]any)
		if !ok {
			return errors.Wrapf(ErrNotDocument, "%s holds %T", oid, payload)
		}
		if err := mergeInto(doc, patchDoc); err != nil {
			return errors.Wrapf(err, "failed to patch %s", oid)
		}
		patched = a
		return sess.ObjectChanged(a, fields...)
	})
	if err != nil {
		return View{}, err
	}
	return ViewOf(patched)
}

// mergeInto replaces the contents of doc with doc merged with patchDoc
func mergeInto(doc map[string]any, patchDoc []byte) error {
	original, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	merged, err := jsonpatch.MergePatch(original, patchDoc)
	if err != nil {
		return err
	}
	var next map[string]any
	if err := json.Unmarshal(merged, &next); err != nil {
		return err
	}
	clear(doc)
	maps.Copy(doc, next)
	return nil
}

// Delete removes the stored object oid, retrying on conflicts
func (s *Service) Delete(ctx context.Context, oid models.Oid) error {
	return s.sessions.RetryOnConflict(ctx, func(ctx context.Context, sess *session.Session) error {
		a, err := sess.Load(ctx, oid)
		if err != nil {
			return err
		}
		return sess.DestroyObject(a)
	})
}
