package pace

import (
	encoding_asn1 "encoding/asn1"
	"fmt"
	"io"

	"github.com/backkem/eid/pkg/apdu"
	"github.com/backkem/eid/pkg/tlv"
)

// MSESetAT builds MANAGE SECURITY ENVIRONMENT - SET AT for PACE:
//
//	00 22 C1 A4 Lc { 80 OID | 83 password | [84 parameterId] | [7F4C CHAT] }
func MSESetAT(info PACEInfo, password PasswordType, chat []byte) (apdu.Command, error) {
	oid, err := oidContent(info.Protocol.OID)
	if err != nil {
		return apdu.Command{}, err
	}
	w := tlv.NewWriter()
	w.PutBytes(tagCryptographicMechanism, oid)
	w.PutUint8(tagPasswordReference, uint8(password))
	if info.ParameterID != ParameterIDAbsent {
		w.PutUint8(tagPrivateKeyReference, uint8(info.ParameterID))
	}
	if len(chat) > 0 {
		w.PutRaw(chat)
	}
	data, err := w.Bytes()
	if err != nil {
		return apdu.Command{}, err
	}
	return apdu.Command{
		INS:  insManageSecurityEnvironment,
		P1:   p1SetAT,
		P2:   p2AT,
		Data: data,
	}, nil
}

// SetATRequest is the decoded data field of MSE:Set AT.
type SetATRequest struct {
	OID         encoding_asn1.ObjectIdentifier
	Password    PasswordType
	ParameterID int
	CHAT        []byte // encoded 7F4C object, nil if absent
}

// ParseMSESetAT decodes the data field of MSE:Set AT.
func ParseMSESetAT(data []byte) (SetATRequest, error) {
	req := SetATRequest{ParameterID: ParameterIDAbsent}
	r := tlv.NewReader(data)
	for {
		err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return req, fmt.Errorf("pace: MSE:Set AT: %w", err)
		}
		switch r.Tag() {
		case tagCryptographicMechanism:
			v, _ := r.Bytes()
			oid, err := parseOIDContent(v)
			if err != nil {
				return req, err
			}
			req.OID = oid
		case tagPasswordReference:
			v, _ := r.Bytes()
			if len(v) != 1 {
				return req, fmt.Errorf("pace: invalid password reference %X", v)
			}
			req.Password = PasswordType(v[0])
		case tagPrivateKeyReference:
			v, _ := r.Bytes()
			if len(v) != 1 {
				return req, fmt.Errorf("pace: invalid domain parameter reference %X", v)
			}
			req.ParameterID = int(v[0])
		case tagCHAT:
			req.CHAT, _ = r.RawBytes()
		}
	}
	if req.OID == nil || req.Password == 0 {
		return req, fmt.Errorf("pace: MSE:Set AT lacks mechanism or password reference")
	}
	return req, nil
}

// GeneralAuthenticate builds the GENERAL AUTHENTICATE command of a step.
// Steps before mutual authentication are flagged as chained. An empty value
// yields the empty dynamic authentication data object 7C 00.
func GeneralAuthenticate(step Step, tag tlv.Tag, value []byte) apdu.Command {
	var cla byte
	if step != StepMutualAuthentication {
		cla = apdu.ClaChaining
	}
	var data []byte
	if value == nil {
		data = tlv.Encode(TagDynamicAuthData)
	} else {
		data = tlv.Encode(TagDynamicAuthData, tlv.Encode(tag, value))
	}
	return apdu.Command{
		CLA:  cla,
		INS:  insGeneralAuthenticate,
		Data: data,
		Ne:   apdu.MaxShortNe,
	}
}

// DynamicAuthData decodes a 7C dynamic authentication data object.
func DynamicAuthData(data []byte) ([]tlv.Element, error) {
	elems, err := tlv.ParseContainer(data, TagDynamicAuthData)
	if err != nil {
		return nil, fmt.Errorf("pace: dynamic authentication data: %w", err)
	}
	return elems, nil
}

// requireObject returns the value of tag in elems.
func requireObject(elems []tlv.Element, tag tlv.Tag) ([]byte, error) {
	v, ok := tlv.Find(elems, tag)
	if !ok || len(v) == 0 {
		return nil, fmt.Errorf("pace: missing data object %s", tag)
	}
	return v, nil
}

// parseAuthResponse decodes 7C { 86 token, [87 CAR], [88 previous CAR] }.
func parseAuthResponse(data []byte) (AuthResponse, error) {
	elems, err := DynamicAuthData(data)
	if err != nil {
		return AuthResponse{}, err
	}
	token, err := requireObject(elems, TagAuthTokenPICC)
	if err != nil {
		return AuthResponse{}, err
	}
	resp := AuthResponse{Token: append([]byte(nil), token...)}
	if car, ok := tlv.Find(elems, TagCAR); ok {
		resp.CAR = append([]byte(nil), car...)
	}
	if car, ok := tlv.Find(elems, TagPreviousCAR); ok {
		resp.PreviousCAR = append([]byte(nil), car...)
	}
	return resp, nil
}

// Encode returns 7C { 86 token, [87 CAR], [88 previous CAR] }.
func (r AuthResponse) Encode() []byte {
	values := [][]byte{tlv.Encode(TagAuthTokenPICC, r.Token)}
	if r.CAR != nil {
		values = append(values, tlv.Encode(TagCAR, r.CAR))
	}
	if r.PreviousCAR != nil {
		values = append(values, tlv.Encode(TagPreviousCAR, r.PreviousCAR))
	}
	return tlv.Encode(TagDynamicAuthData, values...)
}
