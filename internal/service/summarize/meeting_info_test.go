package summarize

import "testing"

func TestExtractMeetingInfo(t *testing.T) {
	tests := []struct {
		name string
		text string
		want MeetingInfo
	}{
		{
			name: "full japanese annotation",
			text: "2024年5月1日 定例\nクライアント名: 株式会社テスト\nコンサルタント名: 山田",
			want: MeetingInfo{Date: "2024年5月1日", Client: "株式会社テスト", Consultant: "山田"},
		},
		{
			name: "slash date and fullwidth colon",
			text: "2024/12/3 クライアント：ACME コンサルタント：佐藤",
			want: MeetingInfo{Date: "2024/12/3", Client: "ACME", Consultant: "佐藤"},
		},
		{
			name: "empty text defaults",
			text: "",
			want: MeetingInfo{Date: "不明", Client: "不明", Consultant: "不明"},
		},
		{
			name: "no annotations defaults",
			text: "ただのメモです",
			want: MeetingInfo{Date: "不明", Client: "不明", Consultant: "不明"},
		},
		{
			name: "date only",
			text: "2023-11-20 の打ち合わせ",
			want: MeetingInfo{Date: "2023-11-20", Client: "不明", Consultant: "不明"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMeetingInfo(tt.text); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
