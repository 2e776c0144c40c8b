package beacon

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	appleCompanyID   = 0x004C
	iBeaconType      = 0x02
	iBeaconLength    = 0x15
	iBeaconFrameSize = 23
)

// IBeacon is a decoded iBeacon advertisement. Student devices advertise their
// enrolment UUID as the proximity UUID.
type IBeacon struct {
	ProximityUUID string
	Major         uint16
	Minor         uint16
	TxPower       int8
}

// ParseIBeacon decodes Apple manufacturer data carrying an iBeacon frame.
func ParseIBeacon(companyID uint16, data []byte) (IBeacon, bool) {
	if companyID != appleCompanyID || len(data) < iBeaconFrameSize {
		return IBeacon{}, false
	}
	if data[0] != iBeaconType || data[1] != iBeaconLength {
		return IBeacon{}, false
	}
	id, err := uuid.FromBytes(data[2:18])
	if err != nil {
		return IBeacon{}, false
	}
	return IBeacon{
		ProximityUUID: id.String(),
		Major:         binary.BigEndian.Uint16(data[18:20]),
		Minor:         binary.BigEndian.Uint16(data[20:22]),
		TxPower:       int8(data[22]),
	}, true
}
