// Command libvpncore builds the core as a C shared library:
//
//	go build -buildmode=c-shared -o libvpncore.so ./cmd/libvpncore
//
// Strings returned by list_servers and get_configuration are allocated with
// malloc and must be released with release_string. A NULL return means the
// call failed; details are only in the log. Releasing a pointer twice, or one
// this library did not return, is undefined.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/benmeehan/vpn-core/internal/capi"
	"github.com/benmeehan/vpn-core/internal/core"
)

type mallocAllocator struct{}

func (mallocAllocator) Alloc(data []byte) unsafe.Pointer {
	return unsafe.Pointer(C.CString(string(data)))
}

func (mallocAllocator) Free(p unsafe.Pointer) {
	C.free(p)
}

var boundary = capi.New(core.Default, mallocAllocator{})

//export list_servers
func list_servers() *C.char {
	return (*C.char)(boundary.ListServers())
}

//export get_configuration
func get_configuration(serverID *C.char, protocol *C.char) *C.char {
	return (*C.char)(boundary.GetConfiguration(goString(serverID), goString(protocol)))
}

//export release_string
func release_string(s *C.char) {
	boundary.Release(unsafe.Pointer(s))
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func main() {}
