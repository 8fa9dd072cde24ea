package uds

import "fmt"

// NegativeResponseError carries the service id and NRC from a `0x7F,sid,nrc`
// response. NRC 0x78 (responsePending) is never surfaced as this
// error; Client absorbs it while waiting out P2*.
type NegativeResponseError struct {
	ServiceID byte
	NRC byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("uds: negative response to service 0x%02X: %s (0x%02X)", e.ServiceID, NRCName(e.NRC), e.NRC)
}

// IsSecurity reports whether the NRC belongs to the security-related
// family {0x33,0x35,0x36,0x37}.
func (e *NegativeResponseError) IsSecurity() bool {
	return IsSecurityNRC(e.NRC)
}

// ErrUnexpectedServiceID is returned when a positive response's echoed
// service id does not match the request.
type ErrUnexpectedServiceID struct {
	Want, Got byte
}

func (e *ErrUnexpectedServiceID) Error() string {
	return fmt.Sprintf("uds: unexpected service id in response: want 0x%02X got 0x%02X", e.Want, e.Got)
}
