package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Filenames are deliberately sortable and greppable: an object's two files
// share the stem "obj-<uuid>", a typed temporary's share
// "tmp-<type>-<id padded to 20 digits>", and an untyped (detached)
// temporary is just "tmp-<id>" with no type segment at all. Detached
// temporaries are intentionally invisible to every recovery-time scan: they
// were never handed a RecoveryId, so a crash before they graduate to a
// typed temporary or an object simply leaves an orphaned file behind.
const (
	objectPrefix       = "obj-"
	dataSuffix         = ".data"
	xattrSuffix        = ".xattr"
	temporaryPrefix    = "tmp-"
	detachedIDWidth    = 20
)

func objectDataName(id ObjectId) string {
	return objectPrefix + id.String() + dataSuffix
}

func objectXattrName(id ObjectId) string {
	return objectPrefix + id.String() + xattrSuffix
}

func parseObjectID(name string) (ObjectId, bool) {
	if !strings.HasPrefix(name, objectPrefix) || !strings.HasSuffix(name, dataSuffix) {
		return ObjectId{}, false
	}
	s := strings.TrimSuffix(strings.TrimPrefix(name, objectPrefix), dataSuffix)
	id, err := uuid.Parse(s)
	if err != nil {
		return ObjectId{}, false
	}
	return id, true
}

func detachedDataName(tempID uint64) string {
	return fmt.Sprintf("%s%0*d%s", temporaryPrefix, detachedIDWidth, tempID, dataSuffix)
}

func typedDataName(id RecoveryId) string {
	return fmt.Sprintf("%s%d-%0*d%s", temporaryPrefix, uint8(id.Type), detachedIDWidth, id.ID, dataSuffix)
}

func typedXattrName(id RecoveryId) string {
	return fmt.Sprintf("%s%d-%0*d%s", temporaryPrefix, uint8(id.Type), detachedIDWidth, id.ID, xattrSuffix)
}

func typedPrefix(t RecoveryType) string {
	return fmt.Sprintf("%s%d-", temporaryPrefix, uint8(t))
}

// parseTypedDataName recovers the RecoveryId encoded in a typed temporary's
// data filename. It rejects detached names, which have no "-" separator
// before the padded id.
func parseTypedDataName(name string) (RecoveryId, bool) {
	if !strings.HasPrefix(name, temporaryPrefix) || !strings.HasSuffix(name, dataSuffix) {
		return RecoveryId{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, temporaryPrefix), dataSuffix)
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return RecoveryId{}, false
	}
	t, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return RecoveryId{}, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return RecoveryId{}, false
	}
	return RecoveryId{Type: RecoveryType(t), ID: id}, true
}

// parseAnyTempID extracts the numeric id from any temporary filename,
// detached or typed, so the store can compute the next free id on open.
func parseAnyTempID(name string) (uint64, bool) {
	if rid, ok := parseTypedDataName(name); ok {
		return rid.ID, true
	}
	if rid, ok := parseTypedXattrName(name); ok {
		return rid.ID, true
	}
	if !strings.HasPrefix(name, temporaryPrefix) {
		return 0, false
	}
	body := strings.TrimPrefix(name, temporaryPrefix)
	body = strings.TrimSuffix(strings.TrimSuffix(body, dataSuffix), xattrSuffix)
	if strings.Contains(body, "-") {
		return 0, false
	}
	id, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseTypedXattrName(name string) (RecoveryId, bool) {
	if !strings.HasPrefix(name, temporaryPrefix) || !strings.HasSuffix(name, xattrSuffix) {
		return RecoveryId{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, temporaryPrefix), xattrSuffix)
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return RecoveryId{}, false
	}
	t, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return RecoveryId{}, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return RecoveryId{}, false
	}
	return RecoveryId{Type: RecoveryType(t), ID: id}, true
}
