// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package mygeotab

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// EntityList is a Get result that remembers the type it was fetched for
type EntityList struct {
	TypeName string
	Entities []Entity
}

// GetList is Get returning an EntityList
//
// Example:
//
//	devices, err := client.GetList(ctx, "Device", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range devices.SortBy("name", false).Entities {
//	    fmt.Println(d.GetValue("name").String())
//	}
func (c *Client) GetList(ctx context.Context, typeName string, params map[string]any, mods ...func(*Req)) (EntityList, error) {
	entities, err := c.Get(ctx, typeName, params, mods...)
	if err != nil {
		return EntityList{}, err
	}
	return EntityList{TypeName: typeName, Entities: entities}, nil
}

// Len returns the number of entities
func (l EntityList) Len() int {
	return len(l.Entities)
}

// First returns the first entity, if any
func (l EntityList) First() (Entity, bool) {
	if len(l.Entities) == 0 {
		return nil, false
	}
	return l.Entities[0], true
}

// Last returns the last entity, if any
func (l EntityList) Last() (Entity, bool) {
	if len(l.Entities) == 0 {
		return nil, false
	}
	return l.Entities[len(l.Entities)-1], true
}

// Single returns the only entity of the list; any other length is an error
func (l EntityList) Single() (Entity, error) {
	if n := len(l.Entities); n != 1 {
		return nil, fmt.Errorf("expected one %s, but %d were returned", l.TypeName, n)
	}
	return l.Entities[0], nil
}

// Slice returns the entities in [i, j) with the same type name; bounds are
// clamped to the list
func (l EntityList) Slice(i, j int) EntityList {
	i = max(0, min(i, len(l.Entities)))
	j = max(i, min(j, len(l.Entities)))
	return EntityList{TypeName: l.TypeName, Entities: slices.Clone(l.Entities[i:j])}
}

// Append returns a new list with entities added at the end
func (l EntityList) Append(entities ...Entity) EntityList {
	out := make([]Entity, 0, len(l.Entities)+len(entities))
	out = append(out, l.Entities...)
	out = append(out, entities...)
	return EntityList{TypeName: l.TypeName, Entities: out}
}

// SortBy returns a copy sorted by the value of key. Strings compare without
// regard to case; entities missing the key sort first. The sort is stable.
func (l EntityList) SortBy(key string, reverse bool) EntityList {
	sorted := slices.Clone(l.Entities)
	slices.SortStableFunc(sorted, func(a, b Entity) int {
		c := compareValues(a[key], b[key])
		if reverse {
			return -c
		}
		return c
	})
	return EntityList{TypeName: l.TypeName, Entities: sorted}
}

// valueRank orders values of different kinds
func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}

func compareValues(a, b any) int {
	if ra, rb := valueRank(a), valueRank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		return cmp.Compare(av, b.(float64))
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return strings.Compare(strings.ToLower(av), strings.ToLower(b.(string)))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}
