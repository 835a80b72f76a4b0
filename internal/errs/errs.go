// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package errs defines the error classes reported by the processing pipeline.
// Callers classify failures with errors.Is against these sentinels; producers
// attach detail by wrapping them, as in fmt.Errorf("%w: bad radius %d", ...)
package errs

import "errors"

var (
	// Configuration marks rejected parameters and mismatched input shapes
	Configuration = errors.New("configuration error")

	// Registration marks failures to estimate or apply an alignment transform
	Registration = errors.New("registration error")

	// Worker marks a panic recovered from a worker goroutine
	Worker = errors.New("worker error")

	// Storage marks failures to read, write or verify image data and metadata
	Storage = errors.New("storage error")
)
