package platform

import (
	"context"

	"github.com/adamavenir/threadline/internal/attach"
	"github.com/adamavenir/threadline/internal/types"
)

// AttachFiles uploads files for the session user and links each stored file
// to messageID. Files that fail to upload or link are named in failed and do
// not stop the others. Without an Uploader every file fails.
func (s *Session) AttachFiles(ctx context.Context, messageID string, files []attach.File) (linked []types.Attachment, failed []string) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.Uploader == nil {
		for _, file := range files {
			failed = append(failed, file.Name)
		}
		s.Logger.Warn("attachments dropped: no storage configured", "message", messageID)
		return nil, failed
	}
	for _, result := range s.Uploader.UploadAll(ctx, s.UserID, files) {
		if result.Err != nil {
			s.Logger.Warn("attachment upload failed", "file", result.File.Name, "error", result.Err)
			failed = append(failed, result.File.Name)
			continue
		}
		attachment, err := s.Store.InsertAttachment(ctx, types.Attachment{
			MessageID: messageID,
			UserID:    s.UserID,
			FileURL:   result.Uploaded.URL,
			FileName:  result.Uploaded.Name,
			FileSize:  result.Uploaded.Size,
			MimeType:  result.Uploaded.MimeType,
		})
		if err != nil {
			s.Logger.Warn("attachment link failed", "file", result.File.Name, "error", err)
			failed = append(failed, result.File.Name)
			continue
		}
		linked = append(linked, attachment)
	}
	return linked, failed
}
