//go:build windows

package fileutil

import (
	"fmt"
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	shell32          = syscall.NewLazyDLL("shell32.dll")
	shFileOperationW = shell32.NewProc("SHFileOperationW")
)

const (
	foDelete          = 3
	fofSilent         = 0x4
	fofNoConfirmation = 0x10
	fofAllowUndo      = 0x40
	fofNoErrorUI      = 0x400
)

// shFileOpStructW mirrors SHFILEOPSTRUCTW from shellapi.h
type shFileOpStructW struct {
	Hwnd                 uintptr
	Func                 uint32
	From                 *uint16
	To                   *uint16
	Flags                uint16
	AnyOperationsAborted int32
	NameMappings         uintptr
	ProgressTitle        *uint16
}

// moveToWindowsTrash sends path to the Recycle Bin.
func moveToWindowsTrash(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	// pFrom is a list of names ending with an empty one.
	from, err := syscall.UTF16FromString(absPath)
	if err != nil {
		return err
	}
	from = append(from, 0)

	op := shFileOpStructW{
		Func:  foDelete,
		From:  &from[0],
		Flags: fofAllowUndo | fofNoConfirmation | fofSilent | fofNoErrorUI,
	}
	if ret, _, _ := shFileOperationW.Call(uintptr(unsafe.Pointer(&op))); ret != 0 {
		return fmt.Errorf("failed to recycle %s: SHFileOperationW returned %d", path, ret)
	}
	return nil
}
