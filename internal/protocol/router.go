package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Handler receives routed messages. Array-valued keys call the per-element
// method once per entry.
type Handler interface {
	HandleIdentity(Identity)
	HandleCalibration(CalibrationReport)
	HandleRangeReport(RangeReport)
	HandleTagDeleted(id64 uint64)
	HandleTagAdded(TagEntry)
	HandleNewTag(id64 uint64)
	HandleDiscoveredTag(id64 uint64)
	HandleKnownTag(TagEntry)
	// HandleKnownListEnd follows the last HandleKnownTag of a KList reply,
	// including an empty one.
	HandleKnownListEnd(count int)
	HandleServiceReport(ServiceReport)
}

type tagEntryWire struct {
	Slot string `json:"slot"`
	A64  string `json:"a64"`
	A16  string `json:"a16"`
	F    string `json:"F"`
	S    string `json:"S"`
	M    string `json:"M"`
}

type twrWire struct {
	A16 string  `json:"a16"`
	R   float64 `json:"R"`
	T   float64 `json:"T"`
	D   float64 `json:"D"`
	P   float64 `json:"P"`
	Xcm float64 `json:"Xcm"`
	Ycm float64 `json:"Ycm"`
	O   float64 `json:"O"`
	V   float64 `json:"V"`
	X   float64 `json:"X"`
	Y   float64 `json:"Y"`
	Z   float64 `json:"Z"`
}

type snWire struct {
	A16 string  `json:"a16"`
	V   float64 `json:"V"`
	X   float64 `json:"X"`
	Y   float64 `json:"Y"`
	Z   float64 `json:"Z"`
}

type calibrationWire struct {
	ANTTXA  float64 `json:"ANTTXA"`
	ANTRXA  float64 `json:"ANTRXA"`
	ANTTXB  float64 `json:"ANTTXB"`
	ANTRXB  float64 `json:"ANTRXB"`
	PDOAOFF float64 `json:"PDOAOFF"`
	RNGOFF  float64 `json:"RNGOFF"`
	ACCTHR  float64 `json:"ACCTHR"`
	ACCSTAT float64 `json:"ACCSTAT"`
	ACCMOVE float64 `json:"ACCMOVE"`
}

type infoWire struct {
	Device  string `json:"Device"`
	Version string `json:"Version"`
}

// Route decodes payload as a JSON object and dispatches every recognised root
// key to h. Unknown keys are ignored. A key whose value cannot be decoded is
// skipped and reported in the returned error; the remaining keys are still
// dispatched.
func Route(payload []byte, h Handler) error {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if root == nil {
		return fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}

	var errs []error
	for _, key := range []string{
		KeyInfo, KeyCalibration, KeyTWR, KeyTagDeleted, KeyTagAdded,
		KeyNewTag, KeyDList, KeyKList, KeySN,
	} {
		raw, ok := root[key]
		if !ok || isNull(raw) {
			continue
		}
		if err := routeKey(key, raw, h); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, key, err))
		}
	}
	return errors.Join(errs...)
}

// Keys returns the recognised root keys present in payload, for logging.
func Keys(payload []byte) []string {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil
	}
	var keys []string
	for _, key := range []string{
		KeyInfo, KeyCalibration, KeyTWR, KeyTagDeleted, KeyTagAdded,
		KeyNewTag, KeyDList, KeyKList, KeySN,
	} {
		if _, ok := root[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func isNull(raw json.RawMessage) bool { return string(raw) == "null" }

func routeKey(key string, raw json.RawMessage, h Handler) error {
	switch key {
	case KeyInfo:
		var w infoWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		h.HandleIdentity(Identity{Device: w.Device, Version: w.Version})

	case KeyCalibration:
		var w calibrationWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		h.HandleCalibration(CalibrationReport{
			AntennaTXA:      int(w.ANTTXA),
			AntennaRXA:      int(w.ANTRXA),
			AntennaTXB:      int(w.ANTTXB),
			AntennaRXB:      int(w.ANTRXB),
			PDOAOffsetMrad:  int(w.PDOAOFF),
			RangeOffsetMM:   int(w.RNGOFF),
			AccThreshold:    int(w.ACCTHR),
			AccStationaryMS: int(w.ACCSTAT),
			AccMovingMS:     int(w.ACCMOVE),
		})

	case KeyTWR:
		var w twrWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		id16, err := ParseID16(w.A16)
		if err != nil {
			return err
		}
		h.HandleRangeReport(RangeReport{
			ID16:           id16,
			Seq:            int(w.R),
			ResponseTimeUS: int(w.T),
			RangeM:         w.D / 100,
			PDOADeg:        w.P,
			XM:             w.Xcm / 100,
			YM:             w.Ycm / 100,
			ClockOffsetPPM: w.O / 100,
			Mode:           int(w.V),
			AccX:           int(w.X),
			AccY:           int(w.Y),
			AccZ:           int(w.Z),
		})

	case KeySN:
		var w snWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return err
		}
		id16, err := ParseID16(w.A16)
		if err != nil {
			id16 = NoShortAddr
		}
		h.HandleServiceReport(ServiceReport{
			ID16: id16,
			Mode: int(w.V),
			AccX: int(w.X),
			AccY: int(w.Y),
			AccZ: int(w.Z),
		})

	case KeyTagDeleted:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		id, err := ParseID64(s)
		if err != nil {
			return err
		}
		h.HandleTagDeleted(id)

	case KeyTagAdded:
		entry, err := decodeTagEntry(raw)
		if err != nil {
			return err
		}
		h.HandleTagAdded(entry)

	case KeyNewTag:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		id, err := ParseID64(s)
		if err != nil {
			return err
		}
		h.HandleNewTag(id)

	case KeyDList:
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		var errs []error
		for _, s := range list {
			id, err := ParseID64(s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			h.HandleDiscoveredTag(id)
		}
		return errors.Join(errs...)

	case KeyKList:
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
		var errs []error
		count := 0
		for _, item := range list {
			entry, err := decodeTagEntry(item)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			h.HandleKnownTag(entry)
			count++
		}
		h.HandleKnownListEnd(count)
		return errors.Join(errs...)
	}
	return nil
}

func decodeTagEntry(raw json.RawMessage) (TagEntry, error) {
	var w tagEntryWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return TagEntry{}, err
	}
	id64, err := ParseID64(w.A64)
	if err != nil {
		return TagEntry{}, err
	}
	id16, err := ParseID16(w.A16)
	if err != nil {
		id16 = NoShortAddr
	}
	return TagEntry{
		Slot:     parseHexField(w.Slot),
		ID64:     id64,
		ID16:     id16,
		FastRate: parseHexField(w.F),
		SlowRate: parseHexField(w.S),
		Mode:     parseHexField(w.M),
	}, nil
}
