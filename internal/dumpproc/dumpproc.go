// Package dumpproc captures a live process into a region-mode dump
// file that package dump can analyze. Capture needs the Win32 debug
// APIs; on other platforms every operation fails with a descriptive
// error.
package dumpproc

// chunkSize is the read granularity, one small page. Unreadable chunks
// become zero holes in the dump instead of failing the capture.
const chunkSize = 0x1000
