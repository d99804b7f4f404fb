package config

import (
	"encoding/json"
	"fmt"
)

type document = map[string]interface{}

// groupKnownKeys are the fields Save owns inside a group entry; anything else
// in a stored entry is carried over untouched.
var groupKnownKeys = map[string]bool{
	"name": true, "mode": true, "allow_from": true, "history_limit": true, "added_at": true,
}

func toDocument(cfg *Config) (document, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode config document: %w", err)
	}
	return doc, nil
}

func mustDocument(cfg *Config) document {
	doc, err := toDocument(cfg)
	if err != nil {
		panic(err)
	}
	return doc
}

// mergeDefaults fills loaded with defaults one level deep. Top-level keys of
// loaded win; for object-valued defaults the nested keys are merged, ignoring
// explicit nulls in loaded so they do not erase a default. Keys that only
// exist in loaded are kept.
func mergeDefaults(defaults, loaded document) document {
	out := make(document, len(defaults)+len(loaded))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range loaded {
		out[k] = v
	}
	for k, dv := range defaults {
		dm, ok := dv.(document)
		if !ok {
			continue
		}
		nested := make(document, len(dm))
		for nk, nv := range dm {
			nested[nk] = nv
		}
		if lm, ok := loaded[k].(document); ok {
			for nk, nv := range lm {
				if nv != nil {
					nested[nk] = nv
				}
			}
		}
		out[k] = nested
	}
	return out
}

// overlayDocument writes the typed document over the stored one. Objects are
// merged recursively so unknown nested keys survive; the groups map takes its
// key set from typed so removals stick.
func overlayDocument(base, typed document) document {
	out := make(document, len(base)+len(typed))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range typed {
		bm, baseIsObj := base[k].(document)
		tm, typedIsObj := v.(document)
		switch {
		case k == "groups" && baseIsObj && typedIsObj:
			out[k] = overlayGroups(bm, tm)
		case baseIsObj && typedIsObj:
			out[k] = overlayDocument(bm, tm)
		default:
			out[k] = v
		}
	}
	return out
}

func overlayGroups(base, typed document) document {
	out := make(document, len(typed))
	for id, entry := range typed {
		em, ok := entry.(document)
		if !ok {
			out[id] = entry
			continue
		}
		merged := make(document, len(em))
		if bm, ok := base[id].(document); ok {
			for k, v := range bm {
				if !groupKnownKeys[k] {
					merged[k] = v
				}
			}
		}
		for k, v := range em {
			merged[k] = v
		}
		out[id] = merged
	}
	return out
}
