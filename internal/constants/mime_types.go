package constants

// Attachment classification. Messages carry attachment references by path;
// when a client omits the message type, the first attachment's extension
// decides the coarse category. The values match the message type enum.
const (
	AttachmentCategoryImage = "image"
	AttachmentCategoryVideo = "video"
	AttachmentCategoryAudio = "audio"
	AttachmentCategoryFile  = "file"
)

// AttachmentCategories maps file extensions to message categories. Unknown
// extensions fall back to AttachmentCategoryFile.
var AttachmentCategories = map[string]string{
	// Image formats
	".jpg":  AttachmentCategoryImage,
	".jpeg": AttachmentCategoryImage,
	".jfif": AttachmentCategoryImage,
	".png":  AttachmentCategoryImage,
	".gif":  AttachmentCategoryImage,
	".webp": AttachmentCategoryImage,
	".svg":  AttachmentCategoryImage,

	// Video formats
	".mp4": AttachmentCategoryVideo,
	".mov": AttachmentCategoryVideo,
	".avi": AttachmentCategoryVideo,

	// Audio formats
	".ogg": AttachmentCategoryAudio,
	".mp3": AttachmentCategoryAudio,
	".wav": AttachmentCategoryAudio,
	".aac": AttachmentCategoryAudio,
	".m4a": AttachmentCategoryAudio,
}
