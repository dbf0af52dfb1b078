// Command libframexchange builds the frame exchange as a C shared library:
//
//	go build -buildmode=c-shared -o libframexchange.so ./cmd/libframexchange
//
// Every export reports failure as 0 or false and never unwinds into the
// caller. Returned addresses point at a slot's 48-byte frame record and stay
// valid until the slot is overwritten or the buffer is freed.
package main

/*
#include <stdbool.h>
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/zsiec/framexchange/internal/exchange"
)

func goKey(key *C.char, n C.int) (string, bool) {
	if key == nil || n <= 0 {
		return "", false
	}
	return C.GoStringN(key, n), true
}

func goPayload(data *C.uint8_t, size C.int) []byte {
	if data == nil || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(data)), int(size))
}

//export fx_init
func fx_init(key *C.char, keyLen C.int, capacity, maxFrameSize C.int) C.bool {
	k, ok := goKey(key, keyLen)
	if !ok {
		return false
	}
	return C.bool(exchange.Default().Init(k, int(capacity), int(maxFrameSize)))
}

//export fx_push_video
func fx_push_video(key *C.char, keyLen C.int, data *C.uint8_t, size C.int,
	width, height C.int, ts C.uint64_t, rotation, frameType C.int) C.uint64_t {
	k, ok := goKey(key, keyLen)
	if !ok {
		return 0
	}
	return C.uint64_t(exchange.Default().PushVideo(k, goPayload(data, size),
		int(width), int(height), uint64(ts), int(rotation), int(frameType)))
}

//export fx_push_audio
func fx_push_audio(key *C.char, keyLen C.int, data *C.uint8_t, size C.int,
	sampleRate, channels C.int, ts C.uint64_t) C.uint64_t {
	k, ok := goKey(key, keyLen)
	if !ok {
		return 0
	}
	return C.uint64_t(exchange.Default().PushAudio(k, goPayload(data, size),
		int(sampleRate), int(channels), uint64(ts)))
}

//export fx_pop
func fx_pop(key *C.char, keyLen C.int) C.uint64_t {
	k, ok := goKey(key, keyLen)
	if !ok {
		return 0
	}
	return C.uint64_t(exchange.Default().Pop(k))
}

//export fx_last_written
func fx_last_written(key *C.char, keyLen C.int) C.uint64_t {
	k, ok := goKey(key, keyLen)
	if !ok {
		return 0
	}
	return C.uint64_t(exchange.Default().LastWritten(k))
}

//export fx_free
func fx_free(key *C.char, keyLen C.int) {
	if k, ok := goKey(key, keyLen); ok {
		exchange.Default().Free(k)
	}
}

//export fx_register_notification_target
func fx_register_notification_target(key *C.char, keyLen C.int, port C.int64_t) C.bool {
	k, ok := goKey(key, keyLen)
	if !ok {
		return false
	}
	return C.bool(exchange.Default().RegisterNotificationTarget(k, int64(port)))
}

// fx_initialize_notification_transport installs the host's post function,
// a C function of type bool (*)(int64_t target, int64_t message).
//
//export fx_initialize_notification_transport
func fx_initialize_notification_transport(postFn unsafe.Pointer) C.bool {
	return C.bool(exchange.Default().InitializeNotificationTransport(uintptr(postFn)))
}

func main() {}
