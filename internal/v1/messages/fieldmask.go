package messages

import "google.golang.org/protobuf/types/known/fieldmaskpb"

// FieldMask selects which SpaceUser fields an update touches. The paths
// array serializes as {"paths": [...]} on both the front and back wires.
type FieldMask = fieldmaskpb.FieldMask

// NewFieldMask builds a mask over the given SpaceUser paths.
func NewFieldMask(paths ...string) *FieldMask {
	return &FieldMask{Paths: paths}
}

// ApplySpaceUserMask copies the masked fields of src into dst. A nil mask
// copies nothing. Paths that name no known field are returned so the caller
// can log them; the known paths are still applied.
func ApplySpaceUserMask(dst, src *SpaceUser, mask *FieldMask) []string {
	if mask == nil {
		return nil
	}
	var unknown []string
	for _, path := range mask.GetPaths() {
		switch path {
		case "name":
			dst.Name = src.Name
		case "playUri":
			dst.PlayURI = src.PlayURI
		case "color":
			dst.Color = src.Color
		case "roomName":
			dst.RoomName = src.RoomName
		case "isLogged":
			dst.IsLogged = src.IsLogged
		case "availabilityStatus":
			dst.AvailabilityStatus = src.AvailabilityStatus
		case "tags":
			dst.Tags = append([]string(nil), src.Tags...)
		case "cameraState":
			dst.CameraState = src.CameraState
		case "microphoneState":
			dst.MicrophoneState = src.MicrophoneState
		case "screenSharingState":
			dst.ScreenSharingState = src.ScreenSharingState
		case "megaphoneState":
			dst.MegaphoneState = src.MegaphoneState
		case "chatID":
			dst.ChatID = src.ChatID
		case "visitCardUrl":
			dst.VisitCardURL = src.VisitCardURL
		case "characterTextures":
			dst.CharacterTextures = append([]CharacterTexture(nil), src.CharacterTextures...)
		default:
			unknown = append(unknown, path)
		}
	}
	return unknown
}
