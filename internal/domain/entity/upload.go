package entity

// UploadResult is the body returned by the chat image upload endpoint.
type UploadResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ImgPath string `json:"img_path,omitempty"`
}

const UploadStatusSuccess = "success"
