// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState remembers the last emitted coordinate of a provider.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether c differs significantly from the last stored coordinate. An empty
// state always reports a change.
func (s *GeolocationState) HasChanged(c Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return c.PosHasSignificantChange(s.last)
}

// Update stores c as the last known coordinate.
func (s *GeolocationState) Update(c Coordinate) {
	s.last = c
	s.haveLast = true
}
