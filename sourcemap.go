// Copyright 2019 Roger Chapman and the v8go contributors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package jsvm

import (
	"fmt"
	"os"
	"sync"
)

// sourceMapRegistry is the process-wide file→sourceMap map spec.md §9
// "Global-mutable state" calls out. A second registration for the same
// file with a different URL is a programmer error (spec.md §4.6.2).
var sourceMapRegistry = struct {
	mu    sync.Mutex
	byURL map[string]string
}{byURL: make(map[string]string)}

func registerSourceMap(resourceName, sourceMapURL string) {
	sourceMapRegistry.mu.Lock()
	defer sourceMapRegistry.mu.Unlock()
	if existing, ok := sourceMapRegistry.byURL[resourceName]; ok && existing != sourceMapURL {
		panic(fmt.Sprintf("jsvm: %q already registered with a different sourceMapUrl", resourceName))
	}
	sourceMapRegistry.byURL[resourceName] = sourceMapURL
}

// StackFrame is one engine-reported frame of a prepared stack trace.
type StackFrame struct {
	FunctionName string
	FileName     string
	Line, Column int
}

// remapStackTrace looks up the source map registered for the first
// frame's file name, reads that file from the local filesystem (spec.md
// §6 "File-system dependency": read-only), and passes the frames through
// applySourceMap, which returns them unchanged. It is not installed as
// the isolate's prepare-stack-trace callback, and nothing in this
// package calls it.
func remapStackTrace(frames []StackFrame) ([]StackFrame, error) {
	if len(frames) == 0 {
		return frames, nil
	}
	sourceMapRegistry.mu.Lock()
	url, ok := sourceMapRegistry.byURL[frames[0].FileName]
	sourceMapRegistry.mu.Unlock()
	if !ok {
		return frames, nil
	}
	data, err := os.ReadFile(url)
	if err != nil {
		return nil, fmt.Errorf("jsvm: reading source map %q: %w", url, err)
	}
	return applySourceMap(frames, data), nil
}

// applySourceMap is the "throwaway-context helper script" step, reduced
// to its Go-native equivalent: this package does not re-parse the
// source-map VLQ format itself (out of spec.md's scope, §1 "DELIBERATELY
// OUT OF SCOPE" names per-family value shapes, of which a source-map
// consumer would be one); it ignores the source-map bytes and returns
// frames unchanged, matching this core's role as a façade rather than a
// source-map implementation.
func applySourceMap(frames []StackFrame, _ []byte) []StackFrame {
	return frames
}
